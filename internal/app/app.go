// Package app builds the bot's object graph once at startup.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"teams-answer-bot/handler"
	"teams-answer-bot/internal/card"
	"teams-answer-bot/internal/citation"
	"teams-answer-bot/internal/config"
	"teams-answer-bot/internal/integrations/answer"
	"teams-answer-bot/internal/integrations/botframework"
	"teams-answer-bot/internal/integrations/graph"
	"teams-answer-bot/internal/integrations/paramstore"
	"teams-answer-bot/internal/repository"
	"teams-answer-bot/internal/usecase"
)

const connectorTimeout = 30 * time.Second

// App holds the wired collaborators shared by every turn.
type App struct {
	Config  config.Config
	Turns   *usecase.TurnService
	Handler *handler.Handler
}

type options struct {
	params   paramstore.Getter
	feedback usecase.FeedbackWriter
	verifier handler.RequestVerifier
}

type Option func(*options)

// WithParamStore replaces the SSM-backed parameter getter.
func WithParamStore(g paramstore.Getter) Option {
	return func(o *options) { o.params = g }
}

// WithFeedbackWriter replaces the feedback store chosen from FEEDBACK_TABLE.
func WithFeedbackWriter(w usecase.FeedbackWriter) Option {
	return func(o *options) { o.feedback = w }
}

// WithRequestVerifier replaces the channel token verifier.
func WithRequestVerifier(v handler.RequestVerifier) Option {
	return func(o *options) { o.verifier = v }
}

// New wires the application. AWS configuration is loaded only when a secret
// or the feedback table lives in AWS.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	needAWS := (o.params == nil && cfg.UseParamStore()) || (o.feedback == nil && cfg.FeedbackTable != "")
	var awsClients *awsDeps
	if needAWS {
		deps, err := loadAWS(ctx)
		if err != nil {
			return nil, err
		}
		awsClients = deps
		if o.params == nil && cfg.UseParamStore() {
			o.params = deps.params
		}
	}

	if err := cfg.ResolveAppPassword(ctx, o.params); err != nil {
		return nil, err
	}

	feedback := o.feedback
	if feedback == nil {
		if cfg.FeedbackTable != "" {
			store, err := repository.NewFeedbackStore(awsClients.dynamo, cfg.FeedbackTable)
			if err != nil {
				return nil, fmt.Errorf("app: feedback store: %w", err)
			}
			feedback = store
		} else {
			slog.InfoContext(ctx, "FEEDBACK_TABLE not set, feedback will only be logged")
			feedback = repository.NopFeedbackStore{}
		}
	}

	answerOpts := []answer.Option{answer.WithTimeout(cfg.Answer.Timeout)}
	if cfg.Answer.FunctionKey != "" {
		answerOpts = append(answerOpts, answer.WithFunctionKey(cfg.Answer.FunctionKey))
	} else {
		answerOpts = append(answerOpts, answer.WithParamStore(o.params, cfg.FunctionKeyParam()))
	}
	answers, err := answer.NewClient(cfg.Answer.URL, answerOpts...)
	if err != nil {
		return nil, fmt.Errorf("app: answer client: %w", err)
	}

	creds := botframework.Credentials(cfg.Bot.AppID, cfg.Bot.AppPassword, cfg.Bot.TenantID)
	bot, err := botframework.NewClient(
		botframework.AuthenticatedHTTPClient(context.WithoutCancel(ctx), creds, connectorTimeout),
		cfg.Bot.AppID,
		cfg.Bot.ConnectionName,
		botframework.WithTrustedServiceHosts(cfg.Bot.TrustedServiceHosts...),
	)
	if err != nil {
		return nil, fmt.Errorf("app: bot framework client: %w", err)
	}

	turns, err := usecase.NewTurnService(bot, bot, graph.NewClient(), answers, feedback, usecase.TurnConfig{
		Resolver: citation.NewResolver(cfg.Citation.BaseURL, cfg.Citation.LibraryPath),
		Composer: card.Composer{
			StripMarkers: cfg.Reply.StripMarkers,
			ConvertHTML:  cfg.Reply.ConvertHTML,
		},
		Markdown: cfg.Reply.Format == config.ReplyFormatMarkdown,
	})
	if err != nil {
		return nil, fmt.Errorf("app: turn service: %w", err)
	}

	verifier := o.verifier
	if verifier == nil {
		if cfg.Bot.AuthDisabled {
			slog.WarnContext(ctx, "BOT_AUTH_DISABLED set, inbound requests are not authenticated")
			verifier = handler.NoVerification{}
		} else {
			v, err := botframework.NewVerifier(cfg.Bot.AppID)
			if err != nil {
				return nil, fmt.Errorf("app: request verifier: %w", err)
			}
			verifier = v
		}
	}

	h, err := handler.NewHandler(turns, verifier)
	if err != nil {
		return nil, fmt.Errorf("app: handler: %w", err)
	}

	return &App{Config: cfg, Turns: turns, Handler: h}, nil
}

type awsDeps struct {
	params *paramstore.Client
	dynamo *awsdynamodb.Client
}

func loadAWS(ctx context.Context) (*awsDeps, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load AWS config: %w", err)
	}
	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, fmt.Errorf("app: parameter store: %w", err)
	}
	return &awsDeps{params: params, dynamo: awsdynamodb.NewFromConfig(awsCfg)}, nil
}
