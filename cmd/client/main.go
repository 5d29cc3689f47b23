package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/roomchat/internal/client"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg := client.ConfigFromEnv()

	name := flag.String("name", "", "display name (defaults to the last one used)")
	flag.StringVar(&cfg.URL, "url", cfg.URL, "chat server WebSocket URL")
	verbose := flag.Bool("v", false, "log connection details to stderr")
	flag.Parse()

	setupLogging(*verbose)

	c := client.New(cfg, client.NewFileNameStore(cfg.NameFile))

	requested := *name
	if requested == "" {
		requested = c.DefaultName()
	}
	joined := c.Join(requested)
	fmt.Printf("Joining as %s at %s\n", joined, cfg.URL)

	go render(c, os.Stdout)
	go readInput(c, os.Stdin)

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"client": func(_ context.Context) error {
				return c.Close()
			},
		},
	)

	os.Exit(<-wait)
}

func setupLogging(verbose bool) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
}

// readInput sends each stdin line. Lines typed while the socket is down are
// dropped with a hint.
func readInput(c *client.Client, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !c.Send(line) {
			fmt.Printf("(not sent, status: %s)\n", c.Status())
		}
	}
	if err := scanner.Err(); err != nil {
		log.Error().Err(err).Msg("Reading input failed")
	}
}

// render prints new feed items and state changes until the client closes.
func render(c *client.Client, out io.Writer) {
	printed := 0
	for u := range c.Updates() {
		switch u.Kind {
		case client.UpdateStatus:
			_, _ = fmt.Fprintf(out, "[%s]\n", u.Status)
		case client.UpdateJoined:
			self := c.Self()
			_, _ = fmt.Fprintf(out, "You are %s (#%s)\n", self.Name, self.ID)
		case client.UpdateRoster:
			names := make([]string, 0)
			for _, user := range c.Roster() {
				names = append(names, user.Name)
			}
			_, _ = fmt.Fprintf(out, "Online: %s\n", strings.Join(names, ", "))
		case client.UpdateFeed:
			items := c.Feed().Items()
			for _, item := range items[printed:] {
				_, _ = fmt.Fprintln(out, formatItem(item))
			}
			printed = len(items)
		}
	}
}

func formatItem(item client.Item) string {
	stamp := time.UnixMilli(item.TS).Format(time.Kitchen)
	if item.Kind == client.ItemSystem {
		return fmt.Sprintf("%s * %s", stamp, item.Text)
	}
	return fmt.Sprintf("%s <%s> %s", stamp, item.From.Name, item.Text)
}
