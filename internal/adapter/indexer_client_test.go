package adapter

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-valuator/internal/config"
	"github.com/portfolio-valuator/internal/types"
)

type recordedVars struct {
	mu   sync.Mutex
	vars []map[string]interface{}
}

func (r *recordedVars) all() []map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]interface{}(nil), r.vars...)
}

// graphQLServer decodes each request and answers with respond(variables)
func graphQLServer(t *testing.T, respond func(query string, vars map[string]interface{}) string) (*httptest.Server, *recordedVars) {
	t.Helper()
	seen := &recordedVars{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		var req graphQLRequest
		if err == nil {
			err = json.Unmarshal(body, &req)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		seen.mu.Lock()
		seen.vars = append(seen.vars, req.Variables)
		seen.mu.Unlock()
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(respond(req.Query, req.Variables)))
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func indexerConfig(url string, pageSize int) config.IndexerConfig {
	return config.IndexerConfig{GraphQLURL: url, APIKey: "secret", Timeout: time.Second, PageSize: pageSize}
}

func TestIndexerBalances(t *testing.T) {
	srv, seen := graphQLServer(t, func(_ string, vars map[string]interface{}) string {
		switch vars["offset"].(float64) {
		case 0:
			return `{"data":{"current_fungible_asset_balances":[
				{"amount":"1000000000","asset_type":"0x1::aptos_coin::AptosCoin","token_standard":"v1",
				 "metadata":{"name":"Aptos Coin","symbol":"APT","decimals":8,"icon_uri":""}},
				{"amount":25000000,"asset_type":"0xbae","token_standard":"v2",
				 "metadata":{"name":"USD Coin","symbol":"USDC","decimals":6,"icon_uri":"https://x/usdc.png"}}
			]}}`
		case 2:
			return `{"data":{"current_fungible_asset_balances":[
				{"amount":"-5","asset_type":"0xbad","token_standard":"v2","metadata":null},
				{"amount":"7","asset_type":"0xbare","token_standard":"v2","metadata":null}
			]}}`
		default:
			return `{"data":{"current_fungible_asset_balances":[]}}`
		}
	})

	client := NewIndexerClient(indexerConfig(srv.URL, 2), testShared(nil))
	balances, err := client.Balances(context.Background(), "0xcafe")
	require.NoError(t, err)

	calls := seen.all()
	require.Len(t, calls, 3, "a full page asks for the next one")
	assert.Equal(t, "0xcafe", calls[0]["owner"])
	assert.Equal(t, 4.0, calls[2]["offset"])

	require.Len(t, balances, 3, "negative amounts are dropped")
	assert.Equal(t, types.NativeAssetID, balances[0].Identifier)
	assert.Equal(t, types.StandardCoin, balances[0].Standard)
	assert.Equal(t, "1000000000", balances[0].Amount.String())
	assert.Equal(t, "APT", balances[0].Metadata.Symbol)
	require.NotNil(t, balances[1].Metadata.Decimals)
	assert.Equal(t, 6, *balances[1].Metadata.Decimals)
	assert.Equal(t, "25000000", balances[1].Amount.String())
	assert.Equal(t, types.StandardFungibleAsset, balances[1].Standard)
	assert.Nil(t, balances[2].Metadata.Decimals, "missing metadata stays unset")
}

func TestIndexerGraphQLErrors(t *testing.T) {
	srv, _ := graphQLServer(t, func(string, map[string]interface{}) string {
		return `{"errors":[{"message":"field not found"}]}`
	})

	client := NewIndexerClient(indexerConfig(srv.URL, 10), testShared(nil))
	_, err := client.Balances(context.Background(), "0xcafe")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field not found")
}

func TestIndexerActivities(t *testing.T) {
	since := time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC)
	srv, seen := graphQLServer(t, func(string, map[string]interface{}) string {
		return `{"data":{"fungible_asset_activities":[
			{"transaction_timestamp":"2025-03-08T10:00:00","transaction_version":"100","event_index":2,
			 "type":"0x1::fungible_asset::Deposit","amount":"500","asset_type":"0xa","is_transaction_success":true},
			{"transaction_timestamp":"2025-03-09T11:30:00.123456","transaction_version":101,"event_index":0,
			 "type":"0x1::coin::WithdrawEvent","amount":"200","asset_type":"0xa","is_transaction_success":false},
			{"transaction_timestamp":"2025-03-09T12:00:00","transaction_version":"102","event_index":1,
			 "type":"0x1::transaction_fee::FeeStatement","amount":"1","asset_type":"0xa","is_transaction_success":true}
		]}}`
	})

	client := NewIndexerClient(indexerConfig(srv.URL, 10), testShared(nil))
	events, err := client.Activities(context.Background(), "0xcafe", since)
	require.NoError(t, err)

	assert.Equal(t, "2025-03-07T00:00:00", seen.all()[0]["since"])
	require.Len(t, events, 2, "events without a balance effect are skipped")

	assert.Equal(t, types.DirectionCredit, events[0].Direction)
	assert.Equal(t, int64(100_002), events[0].Sequence)
	assert.Equal(t, time.Date(2025, 3, 8, 10, 0, 0, 0, time.UTC), events[0].Timestamp)
	assert.True(t, events[0].Success)

	assert.Equal(t, types.DirectionDebit, events[1].Direction)
	assert.Equal(t, "200", events[1].Amount)
	assert.False(t, events[1].Success)
}

func TestActivityDirection(t *testing.T) {
	tests := []struct {
		eventType string
		want      types.EventDirection
		ok        bool
	}{
		{"0x1::fungible_asset::Deposit", types.DirectionCredit, true},
		{"0x1::coin::DepositEvent", types.DirectionCredit, true},
		{"0x1::fungible_asset::Withdraw", types.DirectionDebit, true},
		{"0x1::aptos_coin::GasFeeEvent", types.DirectionDebit, true},
		{"0x1::object::TransferEvent", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			got, ok := activityDirection(tt.eventType)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
