// Copyright (C) 2023 Gobalsky Labs Limited
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package adaptors

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ratevault/swapcore/libs/num"

	"github.com/goccy/go-json"
)

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSource polls a JSON endpoint on every read. The rate is read from
// Field and may be a decimal ("0.05") or a wad integer, quoted or not.
type HTTPSource struct {
	client   HTTPDoer
	endpoint string
	field    string
	headers  map[string]string
}

func NewHTTPSource(client HTTPDoer, endpoint, field string, headers map[string]string) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	if field == "" {
		field = "rate"
	}
	return &HTTPSource{
		client:   client,
		endpoint: endpoint,
		field:    field,
		headers:  headers,
	}
}

func (h *HTTPSource) CurrentRate(ctx context.Context) (num.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint, nil)
	if err != nil {
		return num.DecimalZero(), err
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return num.DecimalZero(), err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return num.DecimalZero(), fmt.Errorf("rate endpoint returned %s", resp.Status)
	}

	payload := map[string]json.RawMessage{}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return num.DecimalZero(), fmt.Errorf("could not decode rate payload: %w", err)
	}
	raw, ok := payload[h.field]
	if !ok {
		return num.DecimalZero(), fmt.Errorf("rate payload has no %q field", h.field)
	}
	return parseRate(raw)
}

// parseRate accepts a JSON string or number.
func parseRate(raw json.RawMessage) (num.Decimal, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		s = string(raw)
	}
	n, err := num.NumericFromString(s)
	if err != nil {
		return num.DecimalZero(), err
	}
	if n == nil {
		return num.DecimalZero(), ErrNoRate
	}
	return n.Rate()
}
