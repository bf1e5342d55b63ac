package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"cardsexport/lib/anki"
	"cardsexport/lib/credstore"
	"cardsexport/lib/scrapers/cards/core"
	"cardsexport/lib/scrapers/cards/discover"
	"cardsexport/lib/scrapers/cards/extract"
	"cardsexport/lib/scrapers/cards/fast"
	"cardsexport/lib/serviceutil"
	"cardsexport/lib/telemetry"
	"cardsexport/services/export"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func runExport(cmd *cobra.Command, args []string) error {
	ctx := serviceutil.SignalContext()

	tel, err := telemetry.SetupFromEnv(ctx, "cardsexport")
	if err != nil && !os.IsNotExist(err) {
		serviceutil.Fatal("failed to setup telemetry", err)
	}
	if err == nil {
		defer tel.Shutdown(context.Background())
	}
	telemetry.InstrumentPerfStats(ctx)

	target, err := discover.ParseTarget(args[0])
	if err != nil {
		return err
	}
	if flagBagID != "" {
		target.Deck.BagID = flagBagID
	}
	if !target.Collection && target.Deck.BagID == "" {
		target.Deck.BagID = os.Getenv("CARDS_BAG_ID")
	}

	creds, err := credstore.Load()
	if err != nil {
		return err
	}
	if flagEmail != "" {
		creds.Email = flagEmail
	}
	if flagPassword != "" {
		creds.Password = flagPassword
	}
	if err := promptMissing(&creds); err != nil {
		return err
	}

	client, err := core.NewClient(ctx, core.ClientOptions{BaseUrl: target.BaseUrl})
	if err != nil {
		return err
	}

	login := func(ctx context.Context) error {
		return client.Login(ctx, creds.Email, creds.Password)
	}
	if err := login(ctx); err != nil {
		var credErr *core.CredentialError
		if errors.As(err, &credErr) {
			if clearErr := credstore.Clear(); clearErr != nil {
				slog.Warn("failed to clear stored credentials", "err", clearErr)
			}
			serviceutil.Fatal("login rejected, stored credentials cleared", err)
		}
		return err
	}
	slog.Info("logged in", "email", creds.Email, "host", target.BaseUrl)
	if !flagNoSave {
		creds.BaseHost = target.BaseUrl
		if err := credstore.Save(creds); err != nil {
			slog.Warn("failed to store credentials", "err", err)
		}
	}

	if err := client.ValidateTarget(ctx, args[0]); err != nil {
		return err
	}

	o := fast.New(client, login)
	o.Concurrency = flagConcurrency
	if flagMaxCards > 0 {
		for _, strategy := range o.Strategies {
			if sequential, ok := strategy.(*discover.Sequential); ok {
				sequential.MaxCards = flagMaxCards
			}
		}
	}

	var cards []extract.Card
	var opts export.Options
	if target.Collection {
		title, collectionCards, err := o.ScrapeCollection(ctx, target.CollectionID)
		if err != nil {
			return err
		}
		cards = collectionCards
		opts.CollectionName = title
	} else {
		title := discover.FetchDeckTitle(ctx, client, target.Deck)
		ref := target.Deck
		ref.Limit = flagMaxCards
		deckCards, err := o.ScrapeDeck(ctx, ref, title)
		if err != nil {
			return err
		}
		cards = deckCards
		opts = export.Options{CollectionName: title, SingleDeck: true}
	}
	slog.Info("scraping finished", "cards", len(cards))

	out := flagOutput
	if out == "" {
		out = sanitizeFilename(opts.CollectionName) + ".apkg"
	}
	pkg, err := export.WriteApkg(ctx, cards, opts, out)
	if err != nil {
		return err
	}

	printSummary(out, pkg)
	return nil
}

func promptMissing(creds *credstore.Credentials) error {
	reader := bufio.NewReader(os.Stdin)
	if creds.Email == "" {
		fmt.Print("Email: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		creds.Email = strings.TrimSpace(line)
	}
	if creds.Password == "" {
		fmt.Print("Password: ")
		secret, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return err
		}
		creds.Password = string(secret)
	}
	if !creds.Complete() {
		return fmt.Errorf("both an email and a password are required")
	}
	return nil
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "cards_export"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}

func printSummary(path string, pkg *anki.Package) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Deck", "Notes"})

	total := 0
	for _, deck := range pkg.Decks {
		t.AppendRow(table.Row{deck.Name, len(deck.Notes)})
		total += len(deck.Notes)
	}
	t.AppendFooter(table.Row{path, total})
	t.SetStyle(table.StyleRounded)
	t.Render()
}
