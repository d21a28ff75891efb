// Package syncro is the gateway to the Syncro API. It fetches the reference
// data the engine resolves against (customers and their contacts, assembled
// into a lean roster snapshot) and the helpdesk tickets it ingests.
package syncro

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/opsledger/worklog-engine/pkg/config"
	"github.com/opsledger/worklog-engine/pkg/logging"
	"github.com/opsledger/worklog-engine/pkg/models"
	"github.com/opsledger/worklog-engine/pkg/retry"
)

// maxPages is a safety limit on pagination loops.
const maxPages = 100

// Gateway centralizes all Syncro API interaction.
type Gateway struct {
	baseURL  string
	apiKey   string
	pageSize int
	client   *http.Client
	logger   *zap.Logger
}

// NewGateway creates a Syncro API gateway.
func NewGateway(cfg *config.SyncroConfig, logger *zap.Logger) (*Gateway, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("syncro base_url is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("syncro api key is required")
	}

	return &Gateway{
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		pageSize: cfg.PageSize,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger.Named("syncro"),
	}, nil
}

type customerPage struct {
	Customers []apiCustomer `json:"customers"`
	Meta      pageMeta      `json:"meta"`
}

type contactPage struct {
	Contacts []apiContact `json:"contacts"`
	Meta     pageMeta     `json:"meta"`
}

type pageMeta struct {
	TotalPages int `json:"total_pages"`
	Page       int `json:"page"`
}

type apiCustomer struct {
	ID           int    `json:"id"`
	BusinessName string `json:"business_name"`
}

type apiContact struct {
	ID         int    `json:"id"`
	CustomerID int    `json:"customer_id"`
	Name       string `json:"name"`
}

type ticketPage struct {
	Tickets []Ticket `json:"tickets"`
	Meta    pageMeta `json:"meta"`
}

// Ticket is a helpdesk ticket with its comment thread, as returned by the
// /tickets endpoint.
type Ticket struct {
	ID            int             `json:"id"`
	Number        int             `json:"number"`
	Subject       string          `json:"subject"`
	Status        string          `json:"status"`
	Priority      string          `json:"priority"`
	ProblemType   string          `json:"problem_type"`
	BillingStatus string          `json:"billing_status"`
	CustomerName  string          `json:"customer_business_then_name"`
	ContactName   string          `json:"contact_fullname"`
	CreatorName   string          `json:"creator_name_or_email"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Comments      []TicketComment `json:"comments"`
}

// TicketComment is one entry of a ticket's thread. The subject, email and
// sms fields reveal how the entry reached the ticket.
type TicketComment struct {
	ID                int       `json:"id"`
	Subject           string    `json:"subject"`
	Body              string    `json:"body"`
	CreatedAt         time.Time `json:"created_at"`
	UserName          string    `json:"user_name"`
	Hidden            bool      `json:"hidden"`
	SMSBody           string    `json:"sms_body"`
	DestinationEmails string    `json:"destination_emails"`
	EmailSender       string    `json:"email_sender"`
}

// TicketFilter narrows a ticket fetch. Zero fields are omitted from the
// query.
type TicketFilter struct {
	// UpdatedSince asks the API for tickets updated after the watermark.
	UpdatedSince time.Time
	// CreatedAfter bounds the initial fetch when no watermark exists yet.
	CreatedAfter time.Time
}

// FetchRoster fetches all customers and contacts and assembles the lean
// roster snapshot the resolver reads.
func (g *Gateway) FetchRoster(ctx context.Context) (*models.Roster, error) {
	customers, err := g.fetchCustomers(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch customers: %w", err)
	}

	contacts, err := g.fetchContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch contacts: %w", err)
	}

	byCustomer := make(map[int][]models.Contact)
	for _, c := range contacts {
		byCustomer[c.CustomerID] = append(byCustomer[c.CustomerID], models.Contact{ID: c.ID, Name: c.Name})
	}

	roster := &models.Roster{RefreshedAt: time.Now().UTC()}
	for _, c := range customers {
		if c.BusinessName == "" {
			continue
		}
		roster.Customers = append(roster.Customers, models.Customer{
			ID:           c.ID,
			BusinessName: c.BusinessName,
			Contacts:     byCustomer[c.ID],
		})
	}

	g.logger.Info("Roster fetch complete",
		zap.Int("customers", len(roster.Customers)),
		zap.Int("contacts", len(contacts)))
	return roster, nil
}

// FetchTickets fetches every ticket matching the filter, comments included.
func (g *Gateway) FetchTickets(ctx context.Context, filter TicketFilter) ([]Ticket, error) {
	params := url.Values{}
	if !filter.UpdatedSince.IsZero() {
		params.Set("since_updated_at", filter.UpdatedSince.UTC().Format(time.RFC3339))
	}
	if !filter.CreatedAfter.IsZero() {
		params.Set("created_after", filter.CreatedAfter.UTC().Format(time.RFC3339))
	}

	var all []Ticket
	for page := 1; page <= maxPages; page++ {
		var result ticketPage
		if err := g.getPage(ctx, "/tickets", page, params, &result); err != nil {
			return nil, fmt.Errorf("fetch tickets: %w", err)
		}
		all = append(all, result.Tickets...)
		if len(result.Tickets) == 0 || page >= result.Meta.TotalPages {
			break
		}
	}

	g.logger.Info("Ticket fetch complete", zap.Int("tickets", len(all)))
	return all, nil
}

func (g *Gateway) fetchCustomers(ctx context.Context) ([]apiCustomer, error) {
	var all []apiCustomer
	for page := 1; page <= maxPages; page++ {
		var result customerPage
		if err := g.getPage(ctx, "/customers", page, nil, &result); err != nil {
			return nil, err
		}
		all = append(all, result.Customers...)
		if len(result.Customers) == 0 || page >= result.Meta.TotalPages {
			break
		}
	}
	return all, nil
}

func (g *Gateway) fetchContacts(ctx context.Context) ([]apiContact, error) {
	var all []apiContact
	for page := 1; page <= maxPages; page++ {
		var result contactPage
		if err := g.getPage(ctx, "/contacts", page, nil, &result); err != nil {
			return nil, err
		}
		all = append(all, result.Contacts...)
		if len(result.Contacts) == 0 || page >= result.Meta.TotalPages {
			break
		}
	}
	return all, nil
}

// getPage fetches a single page of a paginated endpoint with bounded retry
// on transient failures.
func (g *Gateway) getPage(ctx context.Context, endpoint string, page int, extra url.Values, out any) error {
	values := url.Values{}
	for key, vals := range extra {
		values[key] = vals
	}
	values.Set("page", fmt.Sprintf("%d", page))
	if g.pageSize > 0 {
		values.Set("per_page", fmt.Sprintf("%d", g.pageSize))
	}
	requestURL := g.baseURL + endpoint + "?" + values.Encode()

	return retry.DoIfRetryable(ctx, nil, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
		req.Header.Set("Accept", "application/json")

		g.logger.Debug("Syncro request",
			zap.String("url", logging.SanitizeURL(requestURL)),
			zap.Int("page", page))

		resp, err := g.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("syncro %s page %d: HTTP %d", endpoint, page, resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
}
