package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/authsome/stepup/internal/stepup/domain"
	"github.com/authsome/stepup/internal/stepup/service"
	"github.com/authsome/stepup/pkg/httpx"
	"github.com/authsome/stepup/pkg/slogx"
)

// RuleHandler is the admin surface over policy rules.
type RuleHandler struct {
	Policy *service.PolicyService
}

type ruleBody struct {
	OrgID         string   `json:"org_id,omitempty"`
	Kind          string   `json:"kind"`
	Name          string   `json:"name"`
	Priority      int      `json:"priority"`
	RequiredLevel string   `json:"required_level"`
	Methods       []string `json:"methods,omitempty"`

	RoutePattern string  `json:"route_pattern,omitempty"`
	Action       string  `json:"action,omitempty"`
	MinAmount    float64 `json:"min_amount,omitempty"`
	Currency     string  `json:"currency,omitempty"`
	Attribute    string  `json:"attribute,omitempty"`
	Value        string  `json:"value,omitempty"`
	StartHour    int     `json:"start_hour,omitempty"`
	EndHour      int     `json:"end_hour,omitempty"`
}

type ruleView struct {
	ID string `json:"id"`
	ruleBody
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func (b ruleBody) toDomain() domain.Rule {
	methods := make([]domain.FactorType, 0, len(b.Methods))
	for _, m := range b.Methods {
		methods = append(methods, domain.FactorType(m))
	}
	return domain.Rule{
		OrgID:         b.OrgID,
		Kind:          domain.ParseRuleKind(b.Kind),
		Name:          b.Name,
		Priority:      b.Priority,
		RequiredLevel: domain.ParseSecurityLevel(b.RequiredLevel),
		Methods:       methods,
		RoutePattern:  b.RoutePattern,
		Action:        b.Action,
		MinAmount:     b.MinAmount,
		Currency:      b.Currency,
		Attribute:     b.Attribute,
		Value:         b.Value,
		StartHour:     b.StartHour,
		EndHour:       b.EndHour,
	}
}

func toRuleView(r domain.Rule) ruleView {
	return ruleView{
		ID: r.ID,
		ruleBody: ruleBody{
			OrgID:         r.OrgID,
			Kind:          string(r.Kind),
			Name:          r.Name,
			Priority:      r.Priority,
			RequiredLevel: r.RequiredLevel.String(),
			Methods:       methodStrings(r.Methods),
			RoutePattern:  r.RoutePattern,
			Action:        r.Action,
			MinAmount:     r.MinAmount,
			Currency:      r.Currency,
			Attribute:     r.Attribute,
			Value:         r.Value,
			StartHour:     r.StartHour,
			EndHour:       r.EndHour,
		},
		CreatedAt: r.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: r.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// HandleCreate handles POST /v1/admin/rules.
func (h *RuleHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var body ruleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeInvalidBody(w)
		return
	}

	rule, err := h.Policy.Create(ctx, body.toDomain())
	if err != nil {
		log.Warn("rule creation rejected", "name", body.Name, "err", err)
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toRuleView(rule))
}

// HandleGet handles GET /v1/admin/rules/{id}.
func (h *RuleHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	rule, err := h.Policy.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toRuleView(rule))
}

// HandleUpdate handles PUT /v1/admin/rules/{id}.
func (h *RuleHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var body ruleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeInvalidBody(w)
		return
	}

	rule := body.toDomain()
	rule.ID = r.PathValue("id")

	updated, err := h.Policy.Update(ctx, rule)
	if err != nil {
		log.Warn("rule update rejected", "rule_id", rule.ID, "err", err)
		writeServiceError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toRuleView(updated))
}

// HandleDelete handles DELETE /v1/admin/rules/{id}.
func (h *RuleHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.Policy.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleList handles GET /v1/admin/rules?org_id=... — the org's rules plus
// global rules, in evaluation order.
func (h *RuleHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Policy.ListForOrg(r.Context(), r.URL.Query().Get("org_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	views := make([]ruleView, 0, len(rules))
	for _, rule := range rules {
		views = append(views, toRuleView(rule))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"rules": views})
}
