package actors

import (
	"os"

	"github.com/spf13/viper"
	"poap/engine/library"
)

// InitConfig sets up our Viper config object
func InitConfig(config *viper.Viper) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		library.LogCLI(err.Error(), 0)
	}
	config.SetDefault("rootDir", homeDir+"/poap/")
	config.SetConfigType("yaml")
	config.SetConfigFile(config.GetString("rootDir") + "config.yaml")
	err = config.ReadInConfig()
	if err != nil {
		library.LogCLI(err.Error(), 4)
	}
	config.SetDefault("relayUrl", "wss://nostr.688.org")
	config.SetDefault("databaseFile", "poap.db")
	config.SetDefault("logLevel", 4)

	// relay client timing
	config.SetDefault("connectionSettleSeconds", int64(5))
	config.SetDefault("reconnectBackoffSeconds", int64(60))
	config.SetDefault("closePropagationSeconds", int64(10))
	config.SetDefault("resubscribeDelaySeconds", int64(1))

	// claim validation
	config.SetDefault("proximityThresholdMeters", library.DefaultProximityThresholdMeters)

	// Create our working directory and config file if not exist
	initRootDir(config)
	library.Touch(config.GetString("rootDir") + "config.yaml")
	err = config.WriteConfig()
	if err != nil {
		library.LogCLI(err.Error(), 0)
	}
}

func initRootDir(conf *viper.Viper) {
	_, err := os.Stat(conf.GetString("rootDir"))
	if os.IsNotExist(err) {
		err = os.Mkdir(conf.GetString("rootDir"), 0755)
		if err != nil {
			library.LogCLI(err, 0)
		}
	}
}

var conf *viper.Viper

func MakeOrGetConfig() *viper.Viper {
	return conf
}

func SetConfig(config *viper.Viper) {
	conf = config
}
