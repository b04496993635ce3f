package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/normanking/cortex-attention/internal/activity"
	"github.com/normanking/cortex-attention/internal/channel"
	"github.com/normanking/cortex-attention/internal/chat"
	"github.com/normanking/cortex-attention/internal/salience"
)

type scoreFlags struct {
	author     string
	subscriber bool
	moderator  bool
	firstTime  bool
	tenure     time.Duration
}

func newScoreCmd(flags *rootFlags) *cobra.Command {
	sf := &scoreFlags{}
	cmd := &cobra.Command{
		Use:   "score [text]",
		Short: "Score a message with the configured salience engine",
		Example: `  cortex-attention score "@cortex what game is next?" --subscriber
  cortex-attention score "first time here!" --first-time`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			sc, err := cfg.ToSalience()
			if err != nil {
				return err
			}
			engine, err := salience.NewEngine(sc)
			if err != nil {
				return err
			}

			tracker := activity.New(cfg.ToActivity())
			msg := sf.message(args[0])
			score, err := engine.Score(msg, tracker.Observe(msg))
			if err != nil {
				return err
			}
			printScore(cmd.OutOrStdout(), msg, score)
			return nil
		},
	}
	cmd.Flags().StringVar(&sf.author, "author", "viewer", "author display name")
	cmd.Flags().BoolVar(&sf.subscriber, "subscriber", false, "author is a subscriber")
	cmd.Flags().BoolVar(&sf.moderator, "moderator", false, "author is a moderator")
	cmd.Flags().BoolVar(&sf.firstTime, "first-time", false, "author's first message")
	cmd.Flags().DurationVar(&sf.tenure, "tenure", 0, "how long the author has followed, e.g. 2160h")
	return cmd
}

func (sf *scoreFlags) message(text string) *chat.Message {
	msg := &chat.Message{
		ID:      uuid.NewString(),
		Source:  "cli",
		Channel: "cli",
		Author: chat.Author{
			ID:          strings.ToLower(sf.author),
			DisplayName: sf.author,
			Roles: chat.Roles{
				Subscriber: sf.subscriber,
				Moderator:  sf.moderator,
				FirstTime:  sf.firstTime,
			},
		},
		Text:      text,
		Mentions:  channel.ExtractMentions(text),
		Links:     channel.ExtractLinks(text),
		ArrivedAt: time.Now(),
	}
	if sf.tenure > 0 {
		t := sf.tenure
		msg.Author.Tenure = &t
	}
	return msg
}

func printScore(w io.Writer, msg *chat.Message, score chat.Score) {
	fmt.Fprintln(w, titleStyle.Render("Salience"))
	fmt.Fprintf(w, "  Message:   %s\n", msg.Text)
	fmt.Fprintf(w, "  Total:     %.3f\n", score.Total)
	fmt.Fprintf(w, "  Level:     %s\n", score.Level)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Content:   %.3f\n", score.Breakdown.Content)
	fmt.Fprintf(w, "  Authority: %.3f\n", score.Breakdown.Authority)
	fmt.Fprintf(w, "  Relevance: %.3f\n", score.Breakdown.Relevance)
	fmt.Fprintf(w, "  Temporal:  %.3f\n", score.Breakdown.Temporal)
	if len(score.Reasoning) > 0 {
		fmt.Fprintln(w)
		for _, r := range score.Reasoning {
			fmt.Fprintln(w, dimStyle.Render("  • "+r))
		}
	}
}
