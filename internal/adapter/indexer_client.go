package adapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/portfolio-valuator/internal/config"
	"github.com/portfolio-valuator/internal/logging"
	"github.com/portfolio-valuator/internal/types"
)

const balancesQuery = `query Balances($owner: String!, $limit: Int!, $offset: Int!) {
  current_fungible_asset_balances(
    where: {owner_address: {_eq: $owner}}
    limit: $limit
    offset: $offset
  ) {
    amount
    asset_type
    token_standard
    metadata { name symbol decimals icon_uri }
  }
}`

const activitiesQuery = `query Activities($owner: String!, $since: timestamp!, $limit: Int!, $offset: Int!) {
  fungible_asset_activities(
    where: {owner_address: {_eq: $owner}, transaction_timestamp: {_gt: $since}}
    order_by: [{transaction_version: asc}, {event_index: asc}]
    limit: $limit
    offset: $offset
  ) {
    transaction_timestamp
    transaction_version
    event_index
    type
    amount
    asset_type
    is_transaction_success
  }
}`

// maxPages stops a runaway pagination loop against a misbehaving indexer
const maxPages = 200

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type balancesResponse struct {
	Data struct {
		Balances []indexerBalance `json:"current_fungible_asset_balances"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

type indexerBalance struct {
	Amount        interface{} `json:"amount"`
	AssetType     string      `json:"asset_type"`
	TokenStandard string      `json:"token_standard"`
	Metadata      *struct {
		Name     string `json:"name"`
		Symbol   string `json:"symbol"`
		Decimals *int   `json:"decimals"`
		IconURI  string `json:"icon_uri"`
	} `json:"metadata"`
}

type activitiesResponse struct {
	Data struct {
		Activities []indexerActivity `json:"fungible_asset_activities"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

type indexerActivity struct {
	Timestamp string      `json:"transaction_timestamp"`
	Version   interface{} `json:"transaction_version"`
	EventIdx  int64       `json:"event_index"`
	Type      string      `json:"type"`
	Amount    interface{} `json:"amount"`
	AssetType string      `json:"asset_type"`
	Success   bool        `json:"is_transaction_success"`
}

// IndexerClient reads balances and activities from the GraphQL indexer
type IndexerClient struct {
	up       *upstream
	url      string
	apiKey   string
	pageSize int
}

// NewIndexerClient creates an indexer client
func NewIndexerClient(cfg config.IndexerConfig, shared Shared) *IndexerClient {
	c := &IndexerClient{
		up:       newUpstream("indexer", cfg.Timeout, cfg.RateLimit, shared),
		url:      cfg.GraphQLURL,
		apiKey:   cfg.APIKey,
		pageSize: cfg.PageSize,
	}
	if c.pageSize <= 0 {
		c.pageSize = 100
	}
	if c.apiKey == "" {
		c.up.logger.Warn("indexer API key not set; requests are unauthenticated and heavily rate limited")
	}
	return c
}

func (c *IndexerClient) query(ctx context.Context, op, kind, q string, vars map[string]interface{}, out interface{}) error {
	body, err := json.Marshal(graphQLRequest{Query: q, Variables: vars})
	if err != nil {
		return fmt.Errorf("failed to encode %s query: %w", op, err)
	}
	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}
	return c.up.do(ctx, request{
		op:      op,
		method:  fasthttp.MethodPost,
		path:    c.url,
		headers: headers,
		body:    body,
		kind:    kind,
	}, out)
}

func graphQLErr(op string, errs []graphQLError) error {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Message
	}
	return NewAdapterError("indexer", op, fmt.Errorf("graphql: %s", strings.Join(msgs, "; ")), nil)
}

// Balances returns every fungible balance the wallet currently holds
func (c *IndexerClient) Balances(ctx context.Context, wallet string) ([]types.RawBalance, error) {
	logger := logging.FromContext(ctx).Named("indexer").WithField("wallet", wallet)

	var out []types.RawBalance
	for page := 0; page < maxPages; page++ {
		var resp balancesResponse
		err := c.query(ctx, "Balances", "balances", balancesQuery, map[string]interface{}{
			"owner":  wallet,
			"limit":  c.pageSize,
			"offset": page * c.pageSize,
		}, &resp)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch balances: %w", err)
		}
		if len(resp.Errors) > 0 {
			return nil, graphQLErr("Balances", resp.Errors)
		}

		for _, b := range resp.Data.Balances {
			rb, ok := toRawBalance(b)
			if !ok {
				logger.WithField("asset_type", b.AssetType).Debug("skipping balance with unreadable amount")
				continue
			}
			out = append(out, rb)
		}
		if len(resp.Data.Balances) < c.pageSize {
			return out, nil
		}
	}
	logger.Warn("balance pagination stopped at page limit")
	return out, nil
}

func toRawBalance(b indexerBalance) (types.RawBalance, bool) {
	amount, ok := rawAmount(b.Amount)
	if !ok {
		return types.RawBalance{}, false
	}
	rb := types.RawBalance{
		Identifier: types.AssetIdentifier(b.AssetType),
		Amount:     amount,
		Standard:   types.StandardFungibleAsset,
	}
	if b.TokenStandard == string(types.StandardCoin) {
		rb.Standard = types.StandardCoin
	}
	if b.Metadata != nil {
		rb.Metadata = types.AssetMetadata{
			Name:     b.Metadata.Name,
			Symbol:   b.Metadata.Symbol,
			Decimals: b.Metadata.Decimals,
			IconRef:  b.Metadata.IconURI,
		}
	}
	return rb, true
}

// Activities returns the wallet's balance-changing activities after since,
// oldest first
func (c *IndexerClient) Activities(ctx context.Context, wallet string, since time.Time) ([]types.ActivityEvent, error) {
	logger := logging.FromContext(ctx).Named("indexer").WithField("wallet", wallet)

	var out []types.ActivityEvent
	for page := 0; page < maxPages; page++ {
		var resp activitiesResponse
		err := c.query(ctx, "Activities", "activities", activitiesQuery, map[string]interface{}{
			"owner":  wallet,
			"since":  since.UTC().Format("2006-01-02T15:04:05"),
			"limit":  c.pageSize,
			"offset": page * c.pageSize,
		}, &resp)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch activities: %w", err)
		}
		if len(resp.Errors) > 0 {
			return nil, graphQLErr("Activities", resp.Errors)
		}

		for _, a := range resp.Data.Activities {
			ev, ok := toActivityEvent(a)
			if !ok {
				logger.WithFields(map[string]interface{}{
					"type":    a.Type,
					"version": a.Version,
				}).Debug("skipping activity without balance effect")
				continue
			}
			out = append(out, ev)
		}
		if len(resp.Data.Activities) < c.pageSize {
			return out, nil
		}
	}
	logger.Warn("activity pagination stopped at page limit")
	return out, nil
}

// indexer timestamps carry no zone and are UTC
var timestampLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"}

func toActivityEvent(a indexerActivity) (types.ActivityEvent, bool) {
	dir, ok := activityDirection(a.Type)
	if !ok {
		return types.ActivityEvent{}, false
	}
	amount, ok := rawAmount(a.Amount)
	if !ok {
		return types.ActivityEvent{}, false
	}
	version, ok := rawAmount(a.Version)
	if !ok {
		return types.ActivityEvent{}, false
	}

	var ts time.Time
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, a.Timestamp); err == nil {
			ts = t.UTC()
			break
		}
	}
	if ts.IsZero() {
		return types.ActivityEvent{}, false
	}

	return types.ActivityEvent{
		Timestamp:  ts,
		Sequence:   version.Int64()*1000 + a.EventIdx,
		Identifier: types.AssetIdentifier(a.AssetType),
		Direction:  dir,
		Amount:     amount.String(),
		Success:    a.Success,
	}, true
}

// activityDirection maps an event type such as
// "0x1::fungible_asset::Deposit" onto its balance effect. Gas fees are debits.
func activityDirection(eventType string) (types.EventDirection, bool) {
	name := eventType
	if i := strings.LastIndex(name, "::"); i >= 0 {
		name = name[i+2:]
	}
	name = strings.ToLower(name)
	switch {
	case strings.Contains(name, "deposit"), strings.Contains(name, "receive"), strings.Contains(name, "mint"):
		return types.DirectionCredit, true
	case strings.Contains(name, "withdraw"), strings.Contains(name, "send"), strings.Contains(name, "burn"),
		strings.Contains(name, "gas_fee"), strings.Contains(name, "gasfee"):
		return types.DirectionDebit, true
	default:
		return "", false
	}
}
