package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"capsuled/internal/app"
	"capsuled/internal/capsule"
	"capsuled/internal/delivery"

	"github.com/urfave/cli"
)

const stopTimeout = 20 * time.Second

func openApp(c *cli.Context) (*app.App, error) {
	return app.NewApp(context.Background(), c.GlobalString("config"))
}

func runAction(c *cli.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	a, err := openApp(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopAppStop
	select {
	case sig := <-sigCh:
		reason = app.StopSIGINT
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}

func scanAction(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	rep, err := a.ScanOnce(ctx)
	if err != nil {
		return err
	}
	printReport(os.Stdout, rep)
	if n := rep.Count(delivery.OutcomeNotifyFailed) + rep.Count(delivery.OutcomeCommitFailed); n > 0 {
		return cli.NewExitError(fmt.Sprintf("%d capsule(s) not delivered", n), 2)
	}
	return nil
}

func printReport(w io.Writer, rep delivery.CycleReport) {
	fmt.Fprintf(w, "today %s: selected %d, delivered %d, failed %d, commit failed %d, vanished %d, skipped %d (%s)\n",
		rep.Today,
		rep.Selected,
		rep.Count(delivery.OutcomeDelivered),
		rep.Count(delivery.OutcomeNotifyFailed),
		rep.Count(delivery.OutcomeCommitFailed),
		rep.Count(delivery.OutcomeVanished),
		rep.Count(delivery.OutcomeSkipped),
		rep.Took.Round(time.Millisecond),
	)
	for _, it := range rep.Items {
		if it.Error != "" {
			fmt.Fprintf(w, "  %s %s: %s\n", it.ID, it.Outcome, it.Error)
		}
	}
}

func dueAction(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	today, due, err := a.Due(context.Background())
	if err != nil {
		return err
	}
	if c.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Today    capsule.Date      `json:"today"`
			Capsules []capsule.Capsule `json:"capsules"`
		}{today, due})
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tSEND DATE\tEMAIL\tTITLE\n")
	for _, cp := range due {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", cp.ID, cp.SendDate, cp.Email, cp.Title)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Printf("%d capsule(s) due on or before %s\n", len(due), today)
	return nil
}

func addAction(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	cp, err := a.Store().Create(context.Background(), capsule.Draft{
		Title:    c.String("title"),
		Author:   c.String("author"),
		Message:  c.String("message"),
		Email:    c.String("email"),
		SendDate: c.String("date"),
	})
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}
	fmt.Println(cp.ID)
	return nil
}

func verifyAction(c *cli.Context) error {
	a, err := openApp(c)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := a.VerifyMail(ctx); err != nil {
		return err
	}
	fmt.Println("smtp ok")
	return nil
}
