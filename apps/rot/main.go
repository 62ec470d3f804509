//
// main.go
//

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/ucbsky/elsa/rot"
)

var rootCmd = &cobra.Command{
	Use:   "rot",
	Short: "Two-party random OT session driver",
	Long: `rot runs one random OT session between two parties. The sender
listens on the session port and the receiver dials it. Both parties
obtain one byte per OT: the sender the two random message bytes, the
receiver the byte matching its random choice bit.`,
	RunE:          run,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.Flags()
	flags.String("party", "", "session role: sender or receiver")
	flags.String("addr", "localhost", "peer address (receiver only)")
	flags.IntP("port", "p", 14000, "session port")
	flags.IntP("count", "n", 1024, "number of random OTs")
	flags.Int("mode", 0, "generator mode: 0 = iknp, 1 = ferret")
	flags.Int("threads", 1, "hash worker threads (ferret)")
	flags.String("cache-dir", rot.DefaultCacheDir,
		"ferret setup cache directory")
	flags.Bool("timing", false, "print a timing report")
	flags.BoolP("verbose", "v", false, "debug logging")

	for _, name := range []string{
		"party", "addr", "port", "count", "mode", "threads",
		"cache-dir", "timing", "verbose",
	} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
	viper.SetEnvPrefix("ROT")
	viper.AutomaticEnv()
}

func run(cmd *cobra.Command, args []string) error {
	level := zerolog.InfoLevel
	if viper.GetBool("verbose") {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}).Level(level).With().Timestamp().Logger()

	var party rot.Party
	switch viper.GetString("party") {
	case "sender":
		party = rot.Sender
	case "receiver":
		party = rot.Receiver
	default:
		return fmt.Errorf("unknown party %q", viper.GetString("party"))
	}

	cfg := rot.Config{
		Party:    party,
		Addr:     viper.GetString("addr"),
		Port:     viper.GetInt("port"),
		Count:    viper.GetInt("count"),
		Mode:     rot.Mode(viper.GetInt("mode")),
		Threads:  viper.GetInt("threads"),
		CacheDir: viper.GetString("cache-dir"),
		Log:      log,
	}
	if viper.GetBool("timing") {
		cfg.Timing = rot.NewTiming()
	}

	out0 := make([]byte, cfg.Count)
	out1 := make([]byte, cfg.Count)

	bytes, err := rot.RandomOT(cfg, out0, out1)
	if err != nil {
		log.Error().Err(err).Msg("session failed")
		return err
	}

	fmt.Printf("%d OTs, %d bytes on the wire\n", cfg.Count, bytes)
	if cfg.Timing != nil {
		cfg.Timing.Print(os.Stdout, cfg.Timing.Stats)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}
