package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hyperjump/lumimind/internal/assistant"
	"github.com/hyperjump/lumimind/internal/chains"
	"github.com/hyperjump/lumimind/internal/models"
)

var (
	chatModule   string
	chatMode     string
	chatProvider string
	chatSession  string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the assistant in the terminal",
	Long: `Starts an interactive conversation. Lines beginning with / are commands:

  /module <mental_health|communication>   switch module
  /mode <empathetic|cbt|coaching>         switch mode
  /scenarios                              list role-play scenarios
  /roleplay <scenario>                    start a role-play practice
  /reset                                  forget this conversation
  /quit                                   leave`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatModule, "module", string(models.DomainMentalHealth), "starting module")
	chatCmd.Flags().StringVar(&chatMode, "mode", "", "starting mode (default: the module's default)")
	chatCmd.Flags().StringVar(&chatProvider, "provider", "", "LLM provider for this conversation")
	chatCmd.Flags().StringVar(&chatSession, "session", "", "resume a session ID")
	rootCmd.AddCommand(chatCmd)
}

// turnService is the part of the assistant the chat loop drives.
type turnService interface {
	HandleTurn(ctx context.Context, req assistant.TurnRequest) (*models.Response, error)
	StartRolePlay(ctx context.Context, id, scenarioID string) (models.SessionContext, error)
	ResetSession(ctx context.Context, id string) error
}

func runChat(cmd *cobra.Command, _ []string) error {
	s, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close()

	loop := &chatLoop{
		svc:       s.c.Assistant,
		sessionID: chatSession,
		module:    models.Domain(chatModule),
		mode:      models.Mode(chatMode),
		provider:  chatProvider,
		in:        cmd.InOrStdin(),
		out:       cmd.OutOrStdout(),
	}
	return loop.run(cmd.Context())
}

// chatLoop reads lines and turns them into assistant turns. Module, mode and provider are sent
// only when they change so the session's step state is kept between turns.
type chatLoop struct {
	svc       turnService
	sessionID string
	module    models.Domain
	mode      models.Mode
	provider  string
	in        io.Reader
	out       io.Writer
}

func (l *chatLoop) run(ctx context.Context) error {
	if l.sessionID == "" {
		l.sessionID = uuid.NewString()
	}
	fmt.Fprintf(l.out, "session %s (type /quit to leave)\n", l.sessionID)
	sc := bufio.NewScanner(l.in)
	for {
		fmt.Fprint(l.out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(l.out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			quit, err := l.command(ctx, line)
			if err != nil {
				fmt.Fprintf(l.out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}
		if err := l.turn(ctx, line); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(l.out, "error: %v\n", err)
		}
	}
}

func (l *chatLoop) turn(ctx context.Context, utterance string) error {
	resp, err := l.svc.HandleTurn(ctx, assistant.TurnRequest{
		SessionID: l.sessionID,
		Utterance: utterance,
		Module:    l.module,
		Mode:      l.mode,
		Provider:  l.provider,
	})
	if err != nil {
		return err
	}
	l.module, l.mode, l.provider = "", "", ""
	WriteResponse(l.out, resp)
	return nil
}

func (l *chatLoop) command(ctx context.Context, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/module":
		d := models.Domain(arg)
		if !d.Valid() {
			return false, fmt.Errorf("unknown module %q", arg)
		}
		l.module = d
		fmt.Fprintf(l.out, "module: %s\n", d)
	case "/mode":
		if arg == "" {
			return false, fmt.Errorf("usage: /mode <empathetic|cbt|coaching>")
		}
		l.mode = models.Mode(arg)
		fmt.Fprintf(l.out, "mode: %s\n", arg)
	case "/scenarios":
		for _, sc := range chains.Scenarios() {
			fmt.Fprintf(l.out, "  %-12s %s: %s\n", sc.ID, sc.Name, sc.Description)
		}
	case "/roleplay":
		if _, err := l.svc.StartRolePlay(ctx, l.sessionID, arg); err != nil {
			return false, err
		}
		l.module, l.mode = "", ""
		fmt.Fprintf(l.out, "role-play %q started; say your first line\n", arg)
	case "/reset":
		if err := l.svc.ResetSession(ctx, l.sessionID); err != nil {
			return false, err
		}
		fmt.Fprintln(l.out, "conversation cleared")
	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
	return false, nil
}
