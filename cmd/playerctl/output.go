package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/coinroll/internal/game/ledger"
	"github.com/cory-johannsen/coinroll/internal/game/player"
)

const (
	outputText = "text"
	outputYAML = "yaml"
)

type balanceView struct {
	PlayerID   string `yaml:"player_id"`
	DeviceID   string `yaml:"device_id"`
	Coins      int    `yaml:"coins"`
	Rolls      int    `yaml:"rolls"`
	IsLoggedIn bool   `yaml:"logged_in"`
}

type giftView struct {
	ID        int64  `yaml:"id"`
	Sender    string `yaml:"sender"`
	Recipient string `yaml:"recipient"`
	Type      string `yaml:"type"`
	Value     int    `yaml:"value"`
	Queued    bool   `yaml:"queued"`
	Delivered bool   `yaml:"delivered"`
	CreatedAt string `yaml:"created_at"`
}

type logoutView struct {
	LoggedOut int `yaml:"logged_out"`
}

// output renders command results as aligned text or YAML documents.
type output struct {
	format string
	w      io.Writer
}

func newOutput(format string, w io.Writer) (*output, error) {
	switch format {
	case outputText, outputYAML:
		return &output{format: format, w: w}, nil
	}
	return nil, fmt.Errorf("unknown output format %q: must be %s or %s", format, outputText, outputYAML)
}

func (o *output) yaml(v any) error {
	enc := yaml.NewEncoder(o.w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func (o *output) balance(s *player.State) error {
	v := balanceView{
		PlayerID:   s.PlayerID,
		DeviceID:   s.DeviceID,
		Coins:      s.Coins,
		Rolls:      s.Rolls,
		IsLoggedIn: s.IsLoggedIn,
	}
	if o.format == outputYAML {
		return o.yaml(v)
	}
	tw := tabwriter.NewWriter(o.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PLAYER\tDEVICE\tCOINS\tROLLS\tLOGGED IN")
	fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%t\n", v.PlayerID, v.DeviceID, v.Coins, v.Rolls, v.IsLoggedIn)
	return tw.Flush()
}

func (o *output) gifts(gifts []*ledger.Gift) error {
	views := make([]giftView, 0, len(gifts))
	for _, g := range gifts {
		views = append(views, giftView{
			ID:        g.ID,
			Sender:    g.SenderPlayerID,
			Recipient: g.RecipientPlayerID,
			Type:      g.ResourceType,
			Value:     g.ResourceValue,
			Queued:    g.Queued,
			Delivered: g.Delivered,
			CreatedAt: g.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	if o.format == outputYAML {
		return o.yaml(views)
	}
	if len(views) == 0 {
		_, err := fmt.Fprintln(o.w, "no gifts")
		return err
	}
	tw := tabwriter.NewWriter(o.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFROM\tTO\tTYPE\tVALUE\tSTATUS\tCREATED")
	for _, v := range views {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n", v.ID, v.Sender, v.Recipient, v.Type, v.Value, status(v), v.CreatedAt)
	}
	return tw.Flush()
}

func status(v giftView) string {
	switch {
	case !v.Queued:
		return "credited"
	case v.Delivered:
		return "delivered"
	default:
		return "pending"
	}
}

func (o *output) loggedOut(n int) error {
	if o.format == outputYAML {
		return o.yaml(logoutView{LoggedOut: n})
	}
	_, err := fmt.Fprintf(o.w, "logged out %d player(s)\n", n)
	return err
}
