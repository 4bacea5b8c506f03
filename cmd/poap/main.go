package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"poap/engine/actors"
	"poap/engine/library"
	"poap/messaging/eventconductor"
	"poap/messaging/relays"
	"poap/messaging/subscriptions"
	"poap/state"
)

func main() {
	// Various aspects of this application require global and local settings.
	// To keep things clean and tidy we put these settings in a Viper
	// configuration.
	conf := viper.New()
	actors.InitConfig(conf)
	actors.SetConfig(conf)

	store, err := state.Open(conf.GetString("rootDir") + conf.GetString("databaseFile"))
	if err != nil {
		library.LogCLI(err.Error(), 0)
	}

	client := relays.NewClient(conf.GetString("relayUrl"))
	client.SettleDelay = time.Duration(conf.GetInt64("connectionSettleSeconds")) * time.Second
	client.BackoffDelay = time.Duration(conf.GetInt64("reconnectBackoffSeconds")) * time.Second
	client.GraceDelay = time.Duration(conf.GetInt64("closePropagationSeconds")) * time.Second
	client.Start()

	manager := subscriptions.NewManager(client, store)
	manager.ResubscribeDelay = time.Duration(conf.GetInt64("resubscribeDelaySeconds")) * time.Second

	conductor := eventconductor.NewConductor(client, manager, store)
	conductor.ProximityThresholdMeters = conf.GetFloat64("proximityThresholdMeters")

	done := make(chan struct{})
	go func() {
		conductor.Run()
		close(done)
	}()

	interrupt := make(chan struct{})
	go cliListener(interrupt, store)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-interrupt:
	}

	library.LogCLI("Shutting down", 4)
	client.Stop()
	<-done
	actors.Shutdown()
	fmt.Println("Bye!")
}
