package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ananyot-damnoenkiat/wallstreet-data-ops/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

const lookupTimeout = 5 * time.Second

// ParameterGetter is the subset of the SSM client used here.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Resolver reads decrypted values from AWS Systems Manager Parameter Store.
type Resolver struct {
	Client ParameterGetter
	Logger *slog.Logger
}

func NewResolver(ctx context.Context, region string, logger *slog.Logger) (*Resolver, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error loading aws config: %w", err)
	}

	return &Resolver{Client: ssm.NewFromConfig(cfg), Logger: logger}, nil
}

// Get returns the decrypted value of the named parameter.
func (r *Resolver) Get(ctx context.Context, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	result, err := r.Client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("error getting parameter %s: %w", name, err)
	}

	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s has no value", name)
	}

	return *result.Parameter.Value, nil
}

// Required reports whether any secret is configured to come from the parameter store.
func Required(cfg *config.Config) bool {
	return cfg.Secrets.MotherDuckTokenParam != "" || cfg.Secrets.PostgresPasswordParam != ""
}

// Apply fills the configured secrets into cfg. Settings without a parameter name keep
// whatever came from config files or the environment.
func Apply(ctx context.Context, cfg *config.Config, resolver *Resolver) error {
	if name := cfg.Secrets.MotherDuckTokenParam; name != "" {
		value, err := resolver.Get(ctx, name)
		if err != nil {
			return err
		}
		cfg.DuckDB.MotherDuckToken = value
		resolver.Logger.Info("Resolved MotherDuck token from parameter store", "parameter", name)
	}

	if name := cfg.Secrets.PostgresPasswordParam; name != "" {
		value, err := resolver.Get(ctx, name)
		if err != nil {
			return err
		}
		cfg.Postgres.Password = value
		resolver.Logger.Info("Resolved Postgres password from parameter store", "parameter", name)
	}

	return nil
}
