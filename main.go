package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"babble.town/caption"
	"babble.town/lang"
	"babble.town/room"
	"babble.town/rtpin"
	"babble.town/store"
	"babble.town/stt"
	"babble.town/translate"
	"babble.town/web"
)

var logger *log.Logger

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(languagesCmd)

	rootCmd.PersistentFlags().
		String("deepgram-api-key", "", "Deepgram API key")
	rootCmd.PersistentFlags().
		String("gemini-api-key", "", "Gemini API key")
	rootCmd.PersistentFlags().
		String("postgres-url", "", "Postgres URL for caption history (optional)")
	rootCmd.PersistentFlags().
		String("rtp-addr", ":5004", "UDP address to receive RTP audio on")
	rootCmd.PersistentFlags().Int("http-port", 8080, "HTTP server port")

	viper.BindPFlag(
		"deepgram_api_key",
		rootCmd.PersistentFlags().Lookup("deepgram-api-key"),
	)
	viper.BindPFlag(
		"gemini_api_key",
		rootCmd.PersistentFlags().Lookup("gemini-api-key"),
	)
	viper.BindPFlag(
		"postgres_url",
		rootCmd.PersistentFlags().Lookup("postgres-url"),
	)
	viper.BindPFlag("rtp_addr", rootCmd.PersistentFlags().Lookup("rtp-addr"))
	viper.BindPFlag("http_port", rootCmd.PersistentFlags().Lookup("http-port"))
}

func initConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Printf("Error reading config file: %s\n", err)
		}
	}

	logger = log.New(os.Stdout)
}

var rootCmd = &cobra.Command{
	Use:   "babble",
	Short: "Babble is a live multi-language captioning agent",
	Long:  `Babble transcribes live audio and publishes captions in every language the audience asks for.`,
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the captioning agent",
	Run:   runAgent,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server without an agent session",
	Run:   runServe,
}

var languagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "List supported caption languages",
	Run:   runLanguages,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runAgent(cmd *cobra.Command, args []string) {
	mainLogger, hearLogger, xlatLogger, roomLogger, httpLogger := createLoggers()

	deepgramAPIKey := viper.GetString("deepgram_api_key")
	if deepgramAPIKey == "" {
		mainLogger.Fatal("missing DEEPGRAM_API_KEY or --deepgram-api-key=")
	}

	geminiAPIKey := viper.GetString("gemini_api_key")
	if geminiAPIKey == "" {
		mainLogger.Fatal("missing GEMINI_API_KEY or --gemini-api-key=")
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	recognition, err := stt.NewDeepgramClient(deepgramAPIKey, hearLogger)
	if err != nil {
		mainLogger.Fatal("create deepgram client", "error", err.Error())
	}

	translator, err := translate.NewGemini(ctx, geminiAPIKey)
	if err != nil {
		mainLogger.Fatal("create gemini client", "error", err.Error())
	}
	defer translator.Close()

	hub := web.NewHub(httpLogger)
	sinks := []caption.Publisher{
		hub,
		&caption.LogPublisher{Logger: roomLogger},
	}

	var captionStore *store.Store
	if postgresURL := viper.GetString("postgres_url"); postgresURL != "" {
		captionStore, err = store.Open(ctx, postgresURL)
		if err != nil {
			mainLogger.Fatal("open caption store", "error", err.Error())
		}
		defer captionStore.Close()
		sinks = append(sinks, captionStore)
	}

	publisher := &caption.MultiPublisher{Sinks: sinks, Logger: roomLogger}

	session := room.NewSession(ctx, recognition, translator, publisher, roomLogger)
	defer session.Close()

	listener, err := rtpin.Listen(
		viper.GetString("rtp_addr"),
		rtpin.DefaultIdleTimeout,
		mainLogger,
	)
	if err != nil {
		mainLogger.Fatal("listen for RTP", "error", err.Error())
	}

	go func() {
		if err := listener.Run(ctx); err != nil {
			mainLogger.Error("RTP listener stopped", "error", err.Error())
			stop()
		}
	}()

	server := &web.Server{
		Session: session,
		Store:   captionStore,
		Hub:     hub,
		Logger:  httpLogger,
	}
	go func() {
		if err := server.ListenAndServe(viper.GetInt("http_port")); err != nil {
			mainLogger.Error("HTTP server stopped", "error", err.Error())
			stop()
		}
	}()

	xlatLogger.Info("agent ready", "languages", len(lang.All()))

	for {
		select {
		case <-ctx.Done():
			mainLogger.Info("shutting down")
			return
		case track, ok := <-listener.Tracks():
			if !ok {
				return
			}
			err := session.HandleTrackSubscribed(
				track.Participant,
				track.ID,
				track.Frames,
			)
			if err != nil {
				mainLogger.Error("subscribe track",
					"track", track.ID,
					"error", err.Error(),
				)
			}
		}
	}
}

func runServe(cmd *cobra.Command, args []string) {
	mainLogger, _, _, _, httpLogger := createLoggers()

	ctx := context.Background()

	var captionStore *store.Store
	if postgresURL := viper.GetString("postgres_url"); postgresURL != "" {
		var err error
		captionStore, err = store.Open(ctx, postgresURL)
		if err != nil {
			mainLogger.Fatal("open caption store", "error", err.Error())
		}
		defer captionStore.Close()
	}

	server := &web.Server{Store: captionStore, Logger: httpLogger}
	if err := server.ListenAndServe(viper.GetInt("http_port")); err != nil {
		mainLogger.Fatal("start HTTP server", "error", err.Error())
	}
}

func runLanguages(cmd *cobra.Command, args []string) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Code", "Name", "Flag"})
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)

	for _, l := range lang.All() {
		table.Append([]string{l.Code, l.Name, l.Flag})
	}

	table.Render()
}

func createLoggers() (mainLogger, hearLogger, xlatLogger, roomLogger, httpLogger *log.Logger) {
	logLevel := log.DebugLevel

	logger.SetLevel(logLevel)
	logger.SetReportCaller(true)
	logger.SetCallerFormatter(
		func(file string, line int, funcName string) string {
			path, err := filepath.Rel(".", file)
			if err != nil {
				path = file
			}
			return fmt.Sprintf("%s:%d", path, line)
		},
	)

	styles := log.DefaultStyles()
	styles.Prefix = styles.Prefix.MarginTop(1).
		Bold(false).Transform(func(s string) string {
		return strings.TrimSuffix(s, ":")
	})
	styles.Levels[log.InfoLevel] = styles.Levels[log.InfoLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Levels[log.ErrorLevel] = styles.Levels[log.ErrorLevel].
		MaxWidth(6).
		MarginRight(1).
		Bold(false)
	styles.Message = styles.Message.Bold(true).Width(24)
	styles.Key = styles.Key.MarginLeft(1).
		Bold(false).
		Foreground(lipgloss.Color("#ff8800"))

	logger.SetStyles(styles)

	mainLogger = logger.With().WithPrefix("main")
	hearLogger = logger.With().WithPrefix("hear")
	xlatLogger = logger.With().WithPrefix("xlat")
	roomLogger = logger.With().WithPrefix("room")
	httpLogger = logger.With().WithPrefix("http")

	return
}
