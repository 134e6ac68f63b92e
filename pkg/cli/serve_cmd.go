package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/zzzcdf/cube.js/internal/config"
	"github.com/zzzcdf/cube.js/internal/middleware"
	"github.com/zzzcdf/cube.js/internal/server"
)

// tokenValidator picks the authentication mode from the configuration;
// nil means the API is open.
func tokenValidator(ctx context.Context, cfg *config.Config) (middleware.TokenValidator, error) {
	switch {
	case cfg.JWTSecret != "":
		return middleware.NewHS256Validator(cfg.JWTSecret)
	case cfg.AuthIssuerURL != "":
		return middleware.NewOIDCValidator(ctx, cfg.AuthIssuerURL, cfg.AuthJWKSURL, cfg.AuthAudience)
	}
	return nil, nil
}

func newServeCmd(a *app) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the compiled schema over HTTP",
		Long: `Serves metadata, join paths and row filters of the schema over HTTP,
recompiling when the sources change. Requests are authenticated with
JWT_SECRET (HS256) or AUTH_ISSUER_URL (OIDC) when either is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if !cmd.Flags().Changed("listen") {
				listen = a.cfg.ListenAddr
			}

			closeHistory, err := a.openHistory(ctx, a.cfg.HistoryDBPath)
			if err != nil {
				return err
			}
			defer closeHistory()

			c, err := a.compiler(ctx)
			if err != nil {
				return err
			}
			validator, err := tokenValidator(ctx, a.cfg)
			if err != nil {
				return err
			}
			if validator == nil {
				a.logger.Warn("no JWT_SECRET or AUTH_ISSUER_URL set, the API is unauthenticated")
			}

			srv := server.New(server.Options{
				Compiler: c,
				History:  a.history,
				Logger:   a.logger,
				Gatherer: a.reg,
				RateLimit: middleware.RateLimitConfig{
					RequestsPerSecond: a.cfg.RateLimitRPS,
					Burst:             a.cfg.RateLimitBurst,
				},
				AllowedOrigins: a.cfg.CORSAllowedOrigins,
				Validator:      validator,
			})
			return srv.ListenAndServe(ctx, listen)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", ":4000", "Listen address (env LISTEN_ADDR)")
	return cmd
}
