package cmd

import (
	"os/signal"
	"syscall"

	"capturekit/config"
	"capturekit/logger"
	"capturekit/queue"

	"github.com/spf13/cobra"
)

var (
	consumeBrokers []string
	consumeTopic   string
	consumeGroupID string
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Processes captured exchanges from a Kafka topic",
	Long: `Joins a Kafka consumer group and runs every message, a JSON captured
exchange, through the pipeline. Malformed messages are skipped. Messages
that fail on a store error are left unmarked and redelivered.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := queue.ConsumerConfig{
			Brokers: config.AppConfig.Kafka.Brokers,
			Topic:   config.AppConfig.Kafka.Topic,
			GroupID: config.AppConfig.Kafka.GroupID,
			Handler: queue.ExchangeHandler{Processor: services.Pipeline},
		}
		if cmd.Flags().Changed("brokers") {
			cfg.Brokers = consumeBrokers
		}
		if cmd.Flags().Changed("topic") {
			cfg.Topic = consumeTopic
		}
		if cmd.Flags().Changed("group") {
			cfg.GroupID = consumeGroupID
		}

		consumer, err := queue.NewConsumer(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := consumer.Close(); err != nil {
				logger.Error("Consume: closing consumer: %v", err)
			}
		}()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return consumer.Run(ctx)
	},
}

func init() {
	consumeCmd.Flags().StringSliceVar(&consumeBrokers, "brokers", nil, "Kafka brokers (overrides kafka.brokers)")
	consumeCmd.Flags().StringVar(&consumeTopic, "topic", "", "topic to consume (overrides kafka.topic)")
	consumeCmd.Flags().StringVar(&consumeGroupID, "group", "", "consumer group id (overrides kafka.group_id)")
	rootCmd.AddCommand(consumeCmd)
}
