package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mbeoliero/kit/log"
	"github.com/spf13/cobra"

	"github.com/mbeoliero/estatechat/internal/config"
	"github.com/mbeoliero/estatechat/pkg/identity"
	"github.com/mbeoliero/estatechat/sdk"
	"github.com/mbeoliero/estatechat/sdk/localstore"
	"github.com/mbeoliero/estatechat/sdk/realtime/call/webrtcpeer"
	"github.com/mbeoliero/estatechat/sdk/realtime/chat"
	"github.com/mbeoliero/estatechat/sdk/realtime/transport"
)

var rootCmd = &cobra.Command{
	Use:   "chatcli",
	Short: "Terminal client for the estatechat messaging service",
	Long: `chatcli signs in as one marketplace user and drives a chat session
from the terminal. Lines starting with / are commands; anything else is
sent to the open conversation.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Flags().StringP("config", "c", "", "client config file (env ESTATECHAT_* only when empty)")
	rootCmd.Flags().StringP("user", "u", "", "chat user id, e.g. by__42")
	rootCmd.Flags().StringP("token", "t", "", "access token; the saved one is used when empty")
	rootCmd.Flags().Bool("logout", false, "forget the saved token and exit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadClient(configPath)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("user"); v != "" {
		cfg.UserId = v
	}
	if v, _ := cmd.Flags().GetString("token"); v != "" {
		cfg.Token = v
	}

	store, err := localstore.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	if logout, _ := cmd.Flags().GetBool("logout"); logout {
		return store.ClearSession()
	}
	if err := resolveSession(cfg, store); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	theme, err := store.Theme()
	if err != nil {
		return err
	}
	view := newTerminalView(cmd.OutOrStdout(), cfg.UserId, theme)
	session, err := newSession(cfg, view)
	if err != nil {
		return err
	}
	defer session.Close(context.Background())

	if err := session.Start(ctx); err != nil {
		log.CtxWarn(ctx, "initial load failed: user_id=%s, error=%v", cfg.UserId, err)
	}

	r := &repl{session: session, store: store, view: view, out: cmd.OutOrStdout()}
	return r.Run(ctx, cmd.InOrStdin())
}

// resolveSession fills the token from the local store or saves the given one
func resolveSession(cfg *config.ClientConfig, store *localstore.Store) error {
	if cfg.Token != "" {
		if cfg.UserId == "" {
			return fmt.Errorf("--user is required with --token")
		}
		return store.SaveSession(cfg.Token, cfg.UserId)
	}

	token, userId, ok, err := store.Session()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no saved session: pass --user and --token")
	}
	if cfg.UserId != "" && cfg.UserId != userId {
		return fmt.Errorf("saved session belongs to %s", userId)
	}
	cfg.Token, cfg.UserId = token, userId
	return nil
}

func newSession(cfg *config.ClientConfig, view chat.View) (*chat.Session, error) {
	api, err := sdk.NewClient(cfg.APIBaseURL, sdk.WithToken(cfg.Token))
	if err != nil {
		return nil, err
	}
	channel := transport.New(transport.Config{
		URL:             cfg.WSURL,
		Token:           cfg.Token,
		UserId:          cfg.UserId,
		MaxRetries:      cfg.Reconnect.MaxRetries,
		InitialInterval: cfg.Reconnect.InitialInterval,
		MaxInterval:     cfg.Reconnect.MaxInterval,
	})

	role, ok := identity.RoleOf(cfg.UserId)
	if !ok {
		role = identity.RoleType(cfg.Portal)
	}
	if !role.CanChat() {
		return nil, fmt.Errorf("role %q cannot use messaging", role)
	}

	return chat.NewSession(chat.Config{
		SelfId:         cfg.UserId,
		Portal:         chat.NewPortal(role, sdk.Profile{Name: cfg.Name, Email: cfg.Email}),
		TypingDebounce: cfg.Typing.Debounce,
		TypingFallback: cfg.Typing.Fallback,
		RingTimeout:    cfg.Call.RingTimeout,
	}, chat.Deps{
		API:     api,
		Channel: channel,
		Media:   webrtcpeer.NewSource(),
		Peers:   webrtcpeer.NewFactory(cfg.Call.ICEServers),
		Ringer:  newBellRinger(os.Stderr, bellInterval),
		View:    view,
	}), nil
}
