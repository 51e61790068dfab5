package main

import (
	"log/slog"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"

	"github.com/polisai/polis-pay/internal/app"
)

func newLambdaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Run as an AWS Lambda function",
		Long: `Run the payment pipeline under the AWS Lambda runtime.

The handler accepts API Gateway proxy events (body as a JSON string, optionally
base64 encoded) and direct invocations whose body is a JSON object.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			a, err := app.Build(cmd.Context(), cfg, app.Options{})
			if err != nil {
				return err
			}
			slog.SetDefault(a.Logger)
			defer closeApp(a)

			// lambda.Start only returns if the runtime API is unreachable.
			lambda.Start(a.LambdaHandler().Invoke)
			return nil
		},
	}
}
