// Package kickbase implements the upstream Kickbase API client: login, feed
// pagination across both schema versions, competition pool, market and value
// histories.
package kickbase

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	sonic "github.com/bytedance/sonic"
	crerr "github.com/cockroachdb/errors"
	"github.com/sourcegraph/conc/pool"
	"github.com/valyala/bytebufferpool"

	"github.com/kbinsights/kickbase-insights/internal/domain/manager"
	"github.com/kbinsights/kickbase-insights/internal/domain/roster"
	"github.com/kbinsights/kickbase-insights/internal/domain/transfer"
	"github.com/kbinsights/kickbase-insights/internal/platform/logging"
	"github.com/kbinsights/kickbase-insights/internal/platform/resilience"
	"github.com/kbinsights/kickbase-insights/internal/usecase"
)

const (
	defaultBaseURL = "https://api.kickbase.com"
	feedPageSize   = 25
	// The league-wide v2 feed serves at most 330 items.
	feedMaxPages      = 40
	defaultMaxWorkers = 4
)

// Bundesliga team ids in the Kickbase competition pool.
var defaultTeamIDs = []string{
	"2", "3", "4", "5", "7", "9", "10", "11", "13", "14",
	"15", "18", "24", "28", "40", "42", "43", "50",
}

var errKickbaseTransient = crerr.New("kickbase transient failure")
var errKickbaseUnauthorized = crerr.New("kickbase session rejected")

type ClientConfig struct {
	HTTPClient *http.Client
	BaseURL    string
	Email      string
	Password   string
	// SeasonStart anchors the season-start value lookup. Zero disables it.
	SeasonStart time.Time
	// CompetitionTeamIDs overrides the team pool the roster is built from.
	CompetitionTeamIDs []string
	Timeout            time.Duration
	MaxRetries         int
	MaxWorkers         int
	Logger             *logging.Logger
	CircuitBreaker     resilience.CircuitBreakerConfig
}

type Client struct {
	httpClient     *http.Client
	baseURL        string
	email          string
	password       string
	seasonStart    time.Time
	teamIDs        []string
	maxRetries     int
	maxWorkers     int
	logger         *logging.Logger
	breaker        *resilience.CircuitBreaker
	circuitEnabled bool
	flight         resilience.SingleFlight

	mu    sync.Mutex
	token string
}

func NewClient(cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if httpClient.Timeout <= 0 {
		httpClient.Timeout = 20 * time.Second
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	teamIDs := cfg.CompetitionTeamIDs
	if len(teamIDs) == 0 {
		teamIDs = defaultTeamIDs
	}

	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = defaultMaxWorkers
	}

	breakerCfg := resilience.NormalizeCircuitBreakerConfig(cfg.CircuitBreaker)

	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		email:          strings.TrimSpace(cfg.Email),
		password:       cfg.Password,
		seasonStart:    cfg.SeasonStart,
		teamIDs:        teamIDs,
		maxRetries:     maxInt(cfg.MaxRetries, 0),
		maxWorkers:     maxWorkers,
		logger:         logger,
		breaker:        resilience.NewCircuitBreaker(breakerCfg.FailureThreshold, breakerCfg.OpenTimeout, breakerCfg.HalfOpenMaxReq),
		circuitEnabled: breakerCfg.Enabled,
	}
}

var _ usecase.LeagueClient = (*Client)(nil)

func (c *Client) Managers(ctx context.Context, leagueID string) ([]manager.Manager, error) {
	var envelope leagueUsersEnvelope
	if err := c.doJSON(ctx, "/leagues/"+leagueID+"/users", nil, &envelope); err != nil {
		return nil, fmt.Errorf("fetch league users: %w", err)
	}

	p := pool.NewWithResults[manager.Manager]().
		WithContext(ctx).
		WithMaxGoroutines(c.maxWorkers)
	for _, user := range envelope.Users {
		user := user
		p.Go(func(ctx context.Context) (manager.Manager, error) {
			m := manager.Manager{
				ID:              user.ID,
				Name:            user.Name,
				ProfileImageURL: user.ProfileURL,
			}
			var stats userStatsDTO
			if err := c.doJSON(ctx, "/leagues/"+leagueID+"/users/"+user.ID+"/stats", nil, &stats); err != nil {
				c.logger.WarnContext(ctx, "kickbase user stats unavailable",
					"user_id", user.ID, "error", err)
				return m, nil
			}
			m.TeamValue = int64(stats.TeamValue)
			m.Points = stats.Points
			m.Placement = stats.Placement
			return m, nil
		})
	}

	managers, err := p.Wait()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(managers, func(i, j int) bool { return managers[i].Name < managers[j].Name })
	return managers, nil
}

// ManagerFeed reads the manager's buy/sell feed. The per-user v1 feed is
// preferred; when it is gone the league-wide v2 feed is fetched once per run
// and filtered down to the requested manager.
func (c *Client) ManagerFeed(ctx context.Context, leagueID string, owner transfer.Party) ([]transfer.RawFeedItem, error) {
	items, err := c.userFeedV1(ctx, leagueID, owner.ID)
	if err == nil {
		return items, nil
	}
	if stderrors.Is(err, errKickbaseTransient) || ctx.Err() != nil {
		return nil, err
	}

	c.logger.WarnContext(ctx, "per-user feed unavailable, falling back to league feed",
		"user_id", owner.ID, "error", err)
	return c.leagueFeedV2(ctx, leagueID, owner)
}

func (c *Client) userFeedV1(ctx context.Context, leagueID, userID string) ([]transfer.RawFeedItem, error) {
	var items []transfer.RawFeedItem
	for page := 0; page < feedMaxPages; page++ {
		query := map[string]string{"start": strconv.Itoa(page * feedPageSize)}
		var envelope feedEnvelopeV1
		if err := c.doJSON(ctx, "/leagues/"+leagueID+"/users/"+userID+"/feed", query, &envelope); err != nil {
			return nil, fmt.Errorf("fetch user feed page %d: %w", page, err)
		}
		if len(envelope.Items) == 0 {
			break
		}
		for _, item := range envelope.Items {
			items = append(items, mapFeedItemV1(item))
		}
		if len(envelope.Items) < feedPageSize {
			break
		}
	}
	return items, nil
}

// leagueFeedV2 flattens the league-wide transfer feed. The fetch is
// singleflighted per league so concurrent per-manager calls share one
// download, then filtered to deals the owner took part in.
func (c *Client) leagueFeedV2(ctx context.Context, leagueID string, owner transfer.Party) ([]transfer.RawFeedItem, error) {
	out, err, _ := c.flight.Do("feed-v2:"+leagueID, func() (any, error) {
		var all []feedItemV2
		for page := 0; page < feedMaxPages; page++ {
			query := map[string]string{
				"filter": strconv.Itoa(feedV2DealType),
				"start":  strconv.Itoa(page * feedPageSize),
			}
			var envelope feedEnvelopeV2
			if err := c.doJSON(ctx, "/v2/leagues/"+leagueID+"/feed", query, &envelope); err != nil {
				return nil, fmt.Errorf("fetch league feed page %d: %w", page, err)
			}
			if len(envelope.Items) == 0 {
				break
			}
			all = append(all, envelope.Items...)
			if len(envelope.Items) < feedPageSize {
				break
			}
		}
		return all, nil
	})
	if err != nil {
		return nil, err
	}

	all, ok := out.([]feedItemV2)
	if !ok {
		return nil, fmt.Errorf("unexpected feed payload type %T", out)
	}

	var items []transfer.RawFeedItem
	for _, item := range all {
		if !feedItemV2Involves(item, owner.ID) {
			continue
		}
		items = append(items, mapFeedItemV2(item))
	}
	return items, nil
}

func (c *Client) Roster(ctx context.Context, leagueID string) ([]roster.Player, error) {
	playerIDs := make([]string, 0, 512)
	for _, teamID := range c.teamIDs {
		var envelope teamPlayersEnvelope
		if err := c.doJSON(ctx, "/competition/teams/"+teamID+"/players", nil, &envelope); err != nil {
			return nil, fmt.Errorf("fetch team %s players: %w", teamID, err)
		}
		for _, p := range envelope.Players {
			if p.ID != "" {
				playerIDs = append(playerIDs, p.ID)
			}
		}
	}

	wp := pool.NewWithResults[roster.Player]().
		WithContext(ctx).
		WithMaxGoroutines(c.maxWorkers)
	for _, playerID := range playerIDs {
		playerID := playerID
		wp.Go(func(ctx context.Context) (roster.Player, error) {
			stats, err := c.playerStats(ctx, leagueID, playerID)
			if err != nil {
				return roster.Player{}, fmt.Errorf("fetch player %s stats: %w", playerID, err)
			}
			return mapPlayerStats(playerID, stats), nil
		})
	}

	players, err := wp.Wait()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(players, func(i, j int) bool { return players[i].ID < players[j].ID })
	return players, nil
}

func (c *Client) MarketListings(ctx context.Context, leagueID string) ([]usecase.MarketListing, error) {
	var envelope marketEnvelope
	if err := c.doJSON(ctx, "/leagues/"+leagueID+"/market", nil, &envelope); err != nil {
		return nil, fmt.Errorf("fetch market: %w", err)
	}

	listings := make([]usecase.MarketListing, 0, len(envelope.Players))
	for _, p := range envelope.Players {
		listing := usecase.MarketListing{
			PlayerID:    p.ID,
			TeamID:      p.TeamID,
			FirstName:   p.FirstName,
			LastName:    p.LastName,
			Position:    positionName(p.Position),
			Price:       int64(p.Price),
			MarketValue: int64(p.MarketValue),
			Trend:       p.Trend,
		}
		if p.Seller != nil {
			listing.SellerID = p.Seller.ID
			listing.SellerName = p.Seller.Name
		}
		if expiry, ok := parseAPITime(p.Expiry); ok {
			listing.ExpiresAt = expiry
		}
		listings = append(listings, listing)
	}
	return listings, nil
}

func (c *Client) PlayerValueHistory(ctx context.Context, leagueID, playerID string, days int) ([]usecase.ValuePoint, error) {
	stats, err := c.playerStats(ctx, leagueID, playerID)
	if err != nil {
		return nil, fmt.Errorf("fetch player %s stats: %w", playerID, err)
	}

	points := make([]usecase.ValuePoint, 0, len(stats.MarketValues))
	for _, entry := range stats.MarketValues {
		date, ok := parseAPITime(entry.Date)
		if !ok {
			continue
		}
		points = append(points, usecase.ValuePoint{Date: date, Value: int64(entry.Value)})
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	if days > 0 && len(points) > days {
		points = points[len(points)-days:]
	}
	return points, nil
}

func (c *Client) ManagerValueHistory(ctx context.Context, leagueID, managerID string) ([]usecase.ValuePoint, error) {
	var stats userStatsDTO
	if err := c.doJSON(ctx, "/leagues/"+leagueID+"/users/"+managerID+"/stats", nil, &stats); err != nil {
		return nil, fmt.Errorf("fetch user %s stats: %w", managerID, err)
	}

	points := make([]usecase.ValuePoint, 0, len(stats.TeamValues))
	for _, entry := range stats.TeamValues {
		date, ok := parseAPITime(entry.Date)
		if !ok {
			continue
		}
		points = append(points, usecase.ValuePoint{Date: date, Value: int64(entry.Value)})
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points, nil
}

// SeasonStartValues reconstructs each owned player's market value on the
// season start day from their value history. Best effort: players whose
// history cannot be fetched are skipped.
func (c *Client) SeasonStartValues(ctx context.Context, leagueID string) (map[string]int64, error) {
	if c.seasonStart.IsZero() {
		return map[string]int64{}, nil
	}

	players, err := c.Roster(ctx, leagueID)
	if err != nil {
		return nil, fmt.Errorf("fetch roster for season-start values: %w", err)
	}

	type startValue struct {
		playerID string
		value    int64
		found    bool
	}

	wp := pool.NewWithResults[startValue]().
		WithContext(ctx).
		WithMaxGoroutines(c.maxWorkers)
	for _, p := range players {
		if !p.Owned() {
			continue
		}
		p := p
		wp.Go(func(ctx context.Context) (startValue, error) {
			history, err := c.PlayerValueHistory(ctx, leagueID, p.ID, 0)
			if err != nil {
				c.logger.WarnContext(ctx, "season-start value unavailable",
					"player_id", p.ID, "error", err)
				return startValue{}, nil
			}
			value, found := valueAt(history, c.seasonStart)
			return startValue{playerID: p.ID, value: value, found: found}, nil
		})
	}

	results, err := wp.Wait()
	if err != nil {
		return nil, err
	}

	values := make(map[string]int64, len(results))
	for _, r := range results {
		if r.found {
			values[r.playerID] = r.value
		}
	}
	return values, nil
}

// valueAt picks the latest value dated at or before the anchor.
func valueAt(history []usecase.ValuePoint, anchor time.Time) (int64, bool) {
	var value int64
	var found bool
	for _, point := range history {
		if point.Date.After(anchor) {
			break
		}
		value = point.Value
		found = true
	}
	return value, found
}

func (c *Client) playerStats(ctx context.Context, leagueID, playerID string) (playerStatsDTO, error) {
	var stats playerStatsDTO
	err := c.doJSON(ctx, "/leagues/"+leagueID+"/players/"+playerID+"/stats", nil, &stats)
	return stats, err
}

const feedV2DealType = 15

func feedItemV2Involves(item feedItemV2, userID string) bool {
	if item.Data.Seller != nil && item.Data.Seller.ID == userID {
		return true
	}
	if item.Data.Buyer != nil && item.Data.Buyer.ID == userID {
		return true
	}
	return false
}

func mapFeedItemV1(item feedItemV1) transfer.RawFeedItem {
	raw := transfer.RawFeedItem{
		Schema:          transfer.FeedSchemaV1,
		EventID:         item.ID,
		ItemType:        item.Type,
		PlayerID:        item.Meta.PlayerID,
		TeamID:          item.Meta.TeamID,
		PlayerFirstName: item.Meta.PlayerFirstName,
		PlayerLastName:  item.Meta.PlayerLastName,
		Price:           item.Meta.Price.asPtr(),
		BuyerName:       item.Meta.BuyerName,
		SellerName:      item.Meta.SellerName,
	}
	if date, ok := parseAPITime(item.Date); ok {
		raw.Date = date
	}
	return raw
}

func mapFeedItemV2(item feedItemV2) transfer.RawFeedItem {
	raw := transfer.RawFeedItem{
		Schema:   transfer.FeedSchemaV2,
		EventID:  item.ID,
		ItemType: item.Type,
		Value:    item.Data.Value.asPtr(),
	}
	if date, ok := parseAPITime(item.Date); ok {
		raw.Date = date
	}
	if item.Data.Seller != nil {
		raw.Seller = &transfer.Party{ID: item.Data.Seller.ID, Name: item.Data.Seller.Name}
	}
	if item.Data.Buyer != nil {
		raw.Buyer = &transfer.Party{ID: item.Data.Buyer.ID, Name: item.Data.Buyer.Name}
	}
	if item.Data.Player != nil {
		raw.Player = &transfer.RawPlayerRef{
			ID:        item.Data.Player.ID,
			TeamID:    item.Data.Player.TeamID,
			FirstName: item.Data.Player.FirstName,
			LastName:  item.Data.Player.LastName,
		}
	}
	return raw
}

func mapPlayerStats(playerID string, stats playerStatsDTO) roster.Player {
	player := roster.Player{
		ID:          playerID,
		TeamID:      stats.TeamID,
		FirstName:   stats.FirstName,
		LastName:    stats.LastName,
		Position:    positionName(stats.Position),
		MarketValue: int64(stats.MarketValue),
		Trend:       stats.Trend,
		Status:      stats.Status,
		TotalPoints: stats.Points,
	}
	if stats.PlayerID != "" {
		player.ID = stats.PlayerID
	}
	if stats.LeaguePlayer != nil {
		player.OwnerID = stats.LeaguePlayer.UserID
		player.OwnerName = stats.LeaguePlayer.UserName
	}
	return player
}

// login authenticates and caches the session token. Singleflighted so
// concurrent callers trigger one request.
func (c *Client) login(ctx context.Context) (string, error) {
	out, err, _ := c.flight.Do("login", func() (any, error) {
		buf := bytebufferpool.Get()
		defer bytebufferpool.Put(buf)

		body, err := sonic.Marshal(loginRequest{Email: c.email, Password: c.password, Ext: false})
		if err != nil {
			return nil, fmt.Errorf("encode login payload: %w", err)
		}
		_, _ = buf.Write(body)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/user/login", strings.NewReader(buf.String()))
		if err != nil {
			return nil, fmt.Errorf("build login request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: send login request: %s", errKickbaseTransient, sanitizeSensitiveText(err.Error(), c.password))
		}
		defer func() { _ = resp.Body.Close() }()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("%w: read login response: %v", errKickbaseTransient, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("login status=%d body=%s", resp.StatusCode, abbreviateBody(raw))
		}

		var decoded loginResponse
		if err := sonic.Unmarshal(raw, &decoded); err != nil {
			return nil, fmt.Errorf("decode login response: %w", err)
		}
		if decoded.Token == "" {
			return nil, fmt.Errorf("login response carried no token")
		}
		return decoded.Token, nil
	})
	if err != nil {
		return "", err
	}

	token, ok := out.(string)
	if !ok {
		return "", fmt.Errorf("unexpected login payload type %T", out)
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	return token, nil
}

func (c *Client) sessionToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}
	return c.login(ctx)
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func (c *Client) doJSON(ctx context.Context, path string, query map[string]string, target any) error {
	if c.circuitEnabled {
		if err := c.breaker.Allow(); err != nil {
			c.logger.WarnContext(ctx, "kickbase circuit breaker rejected request", "state", c.breaker.State())
			return fmt.Errorf("%w: kickbase is temporarily unavailable", usecase.ErrDependencyUnavailable)
		}
	}

	values := url.Values{}
	for key, value := range query {
		values.Set(key, value)
	}
	fullURL := c.baseURL + path
	if encoded := values.Encode(); encoded != "" {
		fullURL += "?" + encoded
	}

	raw, err := c.executeRequest(ctx, fullURL)
	if stderrors.Is(err, errKickbaseUnauthorized) {
		// Session expired; renew once and retry.
		c.invalidateToken()
		raw, err = c.executeRequest(ctx, fullURL)
	}
	if c.circuitEnabled {
		if err != nil && stderrors.Is(err, errKickbaseTransient) {
			c.breaker.RecordFailure()
		} else {
			c.breaker.RecordSuccess()
		}
	}
	if err != nil {
		return err
	}

	if err := sonic.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode kickbase payload: %w", err)
	}
	return nil
}

func (c *Client) executeRequest(ctx context.Context, fullURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		token, err := c.sessionToken(ctx)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Cookie", "kkstrauth="+token+";")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: send request: %s", errKickbaseTransient, sanitizeSensitiveText(err.Error(), token))
		} else {
			raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 6<<20))
			_ = resp.Body.Close()
			switch {
			case readErr != nil:
				lastErr = fmt.Errorf("%w: read response body: %v", errKickbaseTransient, readErr)
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				return raw, nil
			case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
				return nil, fmt.Errorf("%w: status=%d", errKickbaseUnauthorized, resp.StatusCode)
			case isRetryableStatus(resp.StatusCode):
				lastErr = fmt.Errorf("%w: kickbase status=%d body=%s", errKickbaseTransient, resp.StatusCode, abbreviateBody(raw))
			default:
				return nil, fmt.Errorf("kickbase status=%d body=%s", resp.StatusCode, abbreviateBody(raw))
			}
		}

		if attempt == c.maxRetries {
			break
		}
		backoff := time.Duration(attempt+1) * time.Second
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("kickbase request failed")
	}
	c.logger.WarnContext(ctx, "kickbase request failed", "url", fullURL, "error", lastErr)
	return nil, lastErr
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func sanitizeSensitiveText(value, secret string) string {
	value = strings.TrimSpace(value)
	if value == "" || secret == "" {
		return value
	}
	return strings.ReplaceAll(value, secret, "REDACTED")
}

func abbreviateBody(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) <= 240 {
		return text
	}
	return text[:240] + "..."
}

func maxInt(left, right int) int {
	if left > right {
		return left
	}
	return right
}
