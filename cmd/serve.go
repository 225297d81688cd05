package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/KaramelBytes/insightloom/internal/server"
)

var (
	serveAddr    string
	serveEnvFile string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Example: `  insightloom serve
  insightloom serve --addr :9090 --env-file ./.env`,
	// .env must be loaded before config, so this command loads config itself.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(serveEnvFile); err != nil && (cmd.Flags().Changed("env-file") || !os.IsNotExist(err)) {
			return err
		}
		loadConfig()
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return withApp(ctx, func(a *app) error {
			addr := a.cfg.ListenAddr
			if serveAddr != "" {
				addr = serveAddr
			}
			if a.cfg.LogLevel != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}
			h := server.NewHandler(a.svc, logger.Named("http"))
			// multipart framing on top of the file cap
			engine := server.NewEngine(h, a.cfg.MaxUploadBytes()+(1<<20), logger.Named("http"))
			logger.Info("insightloom ready",
				zap.String("addr", addr),
				zap.String("provider", a.cfg.Provider),
				zap.String("model", a.gen.Model()),
				zap.String("store", a.cfg.Store),
				zap.Int("retention", a.cfg.Retention))
			return server.Run(ctx, addr, engine, logger.Named("http"))
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides listen_addr)")
	serveCmd.Flags().StringVar(&serveEnvFile, "env-file", ".env", "dotenv file loaded before configuration")
}
