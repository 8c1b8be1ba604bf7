// Package webhook posts review-activity embeds to the community's Discord
// webhook. Delivery is best effort; failures are logged, never surfaced.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"ficherp/api/internal/fiche"
)

const username = "FicheRP"

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Color       int          `json:"color"`
	Footer      *embedFooter `json:"footer,omitempty"`
}

type embedFooter struct {
	Text string `json:"text"`
}

type payload struct {
	Username string  `json:"username"`
	Embeds   []embed `json:"embeds"`
}

// Notifier posts to one webhook URL. A nil Notifier (or an empty URL) is a
// no-op so callers never have to branch on configuration.
type Notifier struct {
	url  string
	http *http.Client
}

func New(url string) *Notifier {
	if url == "" {
		return nil
	}
	return &Notifier{
		url:  url,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// FicheSubmitted announces a new or modified sheet.
func (n *Notifier) FicheSubmitted(authorName string, f fiche.FicheRP) {
	if n == nil {
		return
	}
	title := fmt.Sprintf("Nouvelle FicheRP de %s", authorName)
	if f.State == fiche.StateRequestModification || len(f.Versions) > 1 {
		title = fmt.Sprintf("Modification FicheRP pour %s", authorName)
	}
	n.send(embed{
		Title:       title,
		Description: fmt.Sprintf("Name : **%s**\nJob : **%s**", f.Name, f.Job),
		Color:       stateColor(f.State),
		Footer:      &embedFooter{Text: "Gestionnaire de FicheRP"},
	})
}

// ReviewPosted announces a comment or decision on a sheet.
func (n *Notifier) ReviewPosted(authorName string, f fiche.FicheRP, msg fiche.ReviewMessage) {
	if n == nil || msg.IsPrivate {
		return
	}
	n.send(embed{
		Title:       fmt.Sprintf("Nouveau commentaire de %s", authorName),
		Description: fmt.Sprintf("**Sur la fiche :**\nName : **%s**\tJob : **%s**\n%s", f.Name, f.Job, msg.Content),
		Color:       stateColor(msg.SetState),
		Footer:      &embedFooter{Text: "Gestionnaire de FicheRP"},
	})
}

func (n *Notifier) send(e embed) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		body, err := json.Marshal(payload{Username: username, Embeds: []embed{e}})
		if err != nil {
			log.Printf("webhook: marshal payload: %v", err)
			return
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			log.Printf("webhook: build request: %v", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.http.Do(req)
		if err != nil {
			log.Printf("webhook: post: %v", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			log.Printf("webhook: post returned %d", resp.StatusCode)
		}
	}()
}

func stateColor(s fiche.State) int {
	switch s {
	case fiche.StateAccepted, fiche.StateStaffValidated:
		return 0x1F8B4C
	case fiche.StateRefused:
		return 0x992D22
	case fiche.StateRequestModification:
		return 0xE67E22
	default:
		return 0xB8B8B8
	}
}
