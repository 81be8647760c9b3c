package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AaronLay10/AlchemyMachine/internal/config"
	"github.com/AaronLay10/AlchemyMachine/internal/mqtt"
)

// sendCommand publishes solve or reset on the prop's command topic.
func sendCommand(cmd *cobra.Command, opts *rootOptions, token string) error {
	command, ok := mqtt.ParseCommand(token)
	if !ok {
		return fmt.Errorf("unknown command %q (want solve or reset)", token)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load %s: %w", opts.configPath, err)
	}
	pass, err := cfg.MQTTPassword()
	if err != nil {
		return err
	}

	broker := opts.brokerURL
	if broker == "" {
		broker = cfg.BrokerURL()
	}

	client := mqtt.NewClient(mqtt.Options{
		BrokerURL: broker,
		ClientID:  cfg.ClientID() + "-cli-" + uuid.NewString()[:8],
		Username:  cfg.MQTT.Username,
		Password:  pass,
	})
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect %s: %w", broker, err)
	}
	defer client.Disconnect()

	topic := cfg.CommandTopic()
	if err := client.Publish(topic, []byte(command)); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %s\n", command, topic)
	return nil
}
