package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/trustcore/pkg/audit"
	"github.com/telekom/trustcore/pkg/health"
	"github.com/telekom/trustcore/pkg/policy"
	"github.com/telekom/trustcore/pkg/subscription"
	"github.com/telekom/trustcore/pkg/system"
)

// CircuitsResponse lists every tracked circuit.
type CircuitsResponse struct {
	Circuits []health.State `json:"circuits"`
}

// EffectivePolicyResponse is the merged configured policy. Decision is set
// when a capability was asked about; asking is a dry run and is not audited.
type EffectivePolicyResponse struct {
	Layers    []string               `json:"layers"`
	Effective policy.EffectivePolicy `json:"effective"`
	Decision  *policy.Decision       `json:"decision,omitempty"`
}

func (s *Server) getAuditEvents(c *gin.Context) {
	log := system.GetReqLogger(c, s.log)

	filter, err := parseFilter(c)
	if err != nil {
		RespondBadRequestWithDetails(c, "invalid filter", err.Error())
		return
	}

	subscriber := c.GetHeader(SubscriberHeader)
	if subscriber == "" {
		subscriber = c.ClientIP()
	}

	res, err := s.subscribers.Poll(subscriber, filter)
	switch {
	case errors.Is(err, subscription.ErrThrottled):
		RespondTooManyRequests(c, "subscription event budget exhausted, please try again later")
		return
	case errors.Is(err, subscription.ErrInvalidFilter):
		RespondBadRequestWithDetails(c, "invalid filter", err.Error())
		return
	case err != nil:
		RespondInternalError(c, "poll audit events", err, log)
		return
	}

	log.Debug("Served audit events",
		zap.String("subscriber", subscriber),
		zap.Int("count", len(res.Events)),
		zap.Bool("truncated", res.Truncated))
	c.JSON(http.StatusOK, res)
}

func (s *Server) getCircuits(c *gin.Context) {
	c.JSON(http.StatusOK, CircuitsResponse{Circuits: s.trust.Tracker().States()})
}

func (s *Server) getEffectivePolicy(c *gin.Context) {
	log := system.GetReqLogger(c, s.log)

	eff, err := s.trust.EffectivePolicy()
	if err != nil {
		RespondInternalError(c, "resolve policy", err, log)
		return
	}
	layers := s.trust.Layers()
	names := make([]string, len(layers))
	for i, l := range layers {
		names[i] = l.Name
	}

	resp := EffectivePolicyResponse{Layers: names, Effective: eff}
	if capability := strings.TrimSpace(c.Query("capability")); capability != "" {
		d := eff.Decide(capability)
		resp.Decision = &d
	}
	c.JSON(http.StatusOK, resp)
}

// parseFilter reads a subscription filter from the query string. List
// parameters may repeat or be comma separated.
func parseFilter(c *gin.Context) (subscription.Filter, error) {
	f := subscription.Filter{
		AgentID:         c.Query("agentId"),
		EventTypes:      queryList(c, "eventType"),
		ModelRefs:       queryList(c, "modelRef"),
		DecisionOutcome: audit.Outcome(c.Query("decisionOutcome")),
	}
	for _, r := range queryList(c, "riskTier") {
		f.RiskTiers = append(f.RiskTiers, audit.RiskTier(r))
	}
	if v := c.Query("sinceTs"); v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, errors.New("sinceTs must be epoch milliseconds")
		}
		f.SinceTs = audit.Since(ts)
	}
	if v := c.Query("skipAtSince"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, errors.New("skipAtSince must be an integer")
		}
		f.SkipAtSince = n
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, errors.New("limit must be an integer")
		}
		f.Limit = n
	}
	return f, f.Validate()
}

func queryList(c *gin.Context, key string) []string {
	var out []string
	for _, v := range c.QueryArray(key) {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
