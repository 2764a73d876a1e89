package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/matheus3301/helpchat/internal/api"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/structpb"
)

func init() {
	sendCmd.Flags().StringArrayVarP(&attachFlag, "attach", "a", nil, "file to attach (repeatable)")
	draftCmd.Flags().StringArrayVarP(&attachFlag, "attach", "a", nil, "file to keep in the draft (repeatable)")
	historyCmd.Flags().Int64Var(&fromFlag, "from", 0, "request history before this message id")
	historyCmd.Flags().StringVar(&behaviorFlag, "behavior", "actualize", "force or actualize")
	messagesCmd.Flags().IntVarP(&limitFlag, "limit", "n", 20, "number of messages")

	rootCmd.AddCommand(sendCmd, resendCmd, deleteCmd, historyCmd, seenCmd, typingCmd, draftCmd, messagesCmd, watchCmd)
}

var (
	attachFlag   []string
	fromFlag     int64
	behaviorFlag string
	limitFlag    int
)

func attachmentList() []any {
	out := make([]any, 0, len(attachFlag))
	for _, a := range attachFlag {
		out = append(out, a)
	}
	return out
}

var sendCmd = &cobra.Command{
	Use:   "send [text]",
	Short: "Send a message",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return command(api.MethodSendMessage, map[string]any{
			"text":        strings.Join(args, " "),
			"attachments": attachmentList(),
		})
	},
}

var resendCmd = &cobra.Command{
	Use:   "resend <local-id>",
	Short: "Retry a failed message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return command(api.MethodResendMessage, map[string]any{"local_id": args[0]})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <local-id>",
	Short: "Delete an unsent message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return command(api.MethodDeleteMessage, map[string]any{"local_id": args[0]})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Request message history from the server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{"behavior": behaviorFlag}
		if cmd.Flags().Changed("from") {
			req["from_id"] = float64(fromFlag)
		}
		return command(api.MethodRequestHistory, req)
	},
}

var seenCmd = &cobra.Command{
	Use:   "seen <uuid>",
	Short: "Mark messages up to this one as seen",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return command(api.MethodMarkSeen, map[string]any{"uuid": args[0]})
	},
}

var typingCmd = &cobra.Command{
	Use:   "typing [text]",
	Short: "Send a typing notification",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return command(api.MethodSendTyping, map[string]any{"text": strings.Join(args, " ")})
	},
}

var draftCmd = &cobra.Command{
	Use:   "draft [text]",
	Short: "Save unsent input for later",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return command(api.MethodSaveDraft, map[string]any{
			"text":        strings.Join(args, " "),
			"attachments": attachmentList(),
		})
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "List the newest stored messages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := call(api.MethodListMessages, map[string]any{"limit": float64(limitFlag)})
		if err != nil {
			return err
		}
		if jsonFlag {
			return outputJSON(resp)
		}
		msgs := resp.GetFields()["messages"].GetListValue().GetValues()
		if len(msgs) == 0 {
			fmt.Println("No messages.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DATE\tFROM\tSTATUS\tTEXT")
		for _, v := range msgs {
			fmt.Fprintln(w, formatMessage(v.GetStructValue()))
		}
		return w.Flush()
	},
}

func formatMessage(m *structpb.Struct) string {
	f := m.GetFields()
	from := "me"
	if f["incoming"].GetBoolValue() {
		from = fmt.Sprintf("agent %d", int64(f["agent_id"].GetNumberValue()))
	}
	text := f["text"].GetStringValue()
	if a := f["attachment"].GetStructValue(); a != nil {
		text = "[" + a.GetFields()["name"].GetStringValue() + "] " + text
	}
	if form := f["form"].GetStructValue(); form != nil {
		text = "[contact form: " + form.GetFields()["status"].GetStringValue() + "] " + text
	}
	state := f["status"].GetStringValue()
	if d := f["delivery"].GetStringValue(); d != "" {
		state += "/" + d
	}
	date := f["date"].GetStringValue()
	if t, err := time.Parse(time.RFC3339, date); err == nil {
		date = t.Local().Format("2006-01-02 15:04:05")
	}
	return fmt.Sprintf("%s\t%s\t%s\t%s", date, from, state, text)
}

var watchCmd = &cobra.Command{
	Use:   "watch [kind-prefix]",
	Short: "Stream engine events until interrupted",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix := ""
		if len(args) == 1 {
			prefix = args[0]
		}
		c, err := connect()
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		err = c.Watch(ctx, prefix, func(evt *structpb.Struct) error {
			if jsonFlag {
				return outputJSON(evt)
			}
			f := evt.GetFields()
			at := time.UnixMilli(int64(f["occurred_at_unix_ms"].GetNumberValue()))
			fmt.Printf("%s %s\n", at.Format("15:04:05.000"), f["kind"].GetStringValue())
			return nil
		})
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}
