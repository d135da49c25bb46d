// Package contextref resolves natural-language back-references ("that one",
// "add $50") against prior turns and prior action results. Matching is
// literal keyword and regex scanning; no model calls are involved.
package contextref

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/adpilot-ai/adpilot/pkg/conversation"
	"github.com/adpilot-ai/adpilot/pkg/turn"
)

// Reference kinds.
const (
	ReferenceDemonstrative = "demonstrative"
	ReferenceRelativeValue = "relative_value"
)

// Entity types a reference can point at.
const (
	EntityCreative    = "creative"
	EntityCampaign    = "campaign"
	EntityLandingPage = "landing_page"
	EntityReport      = "report"
	EntityBudget      = "budget"
)

// Reference is the result of scanning a message for back-references.
type Reference struct {
	HasReference  bool    `json:"has_reference"`
	ReferenceType string  `json:"reference_type,omitempty"`
	EntityType    string  `json:"entity_type,omitempty"`
	RelativeValue float64 `json:"relative_value,omitempty"`
	// RelativeOp is "add" or "subtract" for relative-value phrases.
	RelativeOp string `json:"relative_op,omitempty"`
}

// Word boundaries do not apply around CJK runes, so the Chinese alternatives
// sit outside the \b groups.
var (
	demonstrativeRe = regexp.MustCompile(`(?i)\b(?:that one|this one|the last one|that|this|it|them)\b|那个|这个|那些|刚才的`)
	relativeAddRe   = regexp.MustCompile(`(?i)(?:\b(?:add|increase|raise|up by)\b|增加|提高|加)\s*\$?\s*(\d+(?:\.\d+)?)`)
	relativeSubRe   = regexp.MustCompile(`(?i)(?:\b(?:subtract|decrease|reduce|lower|cut|down by)\b|减少|降低|减)\s*\$?\s*(\d+(?:\.\d+)?)`)
)

// entityKeywords maps literal message substrings onto entity types, checked
// in order so the more specific phrases win.
var entityKeywords = []struct {
	keyword string
	entity  string
}{
	{"landing page", EntityLandingPage},
	{"落地页", EntityLandingPage},
	{"creative", EntityCreative},
	{"image", EntityCreative},
	{"广告图", EntityCreative},
	{"素材", EntityCreative},
	{"budget", EntityBudget},
	{"预算", EntityBudget},
	{"report", EntityReport},
	{"报告", EntityReport},
	{"campaign", EntityCampaign},
	{"广告系列", EntityCampaign},
}

// ExtractReferences recognizes pronoun/demonstrative patterns and
// relative-value phrases in a message. Never fails; a message with no
// recognizable pattern returns HasReference=false.
func ExtractReferences(message string) Reference {
	lower := strings.ToLower(message)

	ref := Reference{}
	for _, kw := range entityKeywords {
		if strings.Contains(lower, kw.keyword) {
			ref.EntityType = kw.entity
			break
		}
	}

	if m := relativeAddRe.FindStringSubmatch(message); m != nil {
		ref.HasReference = true
		ref.ReferenceType = ReferenceRelativeValue
		ref.RelativeOp = "add"
		ref.RelativeValue = parseAmount(m[1])
		return ref
	}
	if m := relativeSubRe.FindStringSubmatch(message); m != nil {
		ref.HasReference = true
		ref.ReferenceType = ReferenceRelativeValue
		ref.RelativeOp = "subtract"
		ref.RelativeValue = parseAmount(m[1])
		return ref
	}

	if demonstrativeRe.MatchString(message) {
		ref.HasReference = true
		ref.ReferenceType = ReferenceDemonstrative
		return ref
	}

	return Reference{EntityType: ref.EntityType}
}

func parseAmount(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// entityModules maps entity types onto the module whose results can satisfy
// them.
var entityModules = map[string]turn.Module{
	EntityCreative:    turn.ModuleCreative,
	EntityCampaign:    turn.ModuleCampaign,
	EntityLandingPage: turn.ModuleLanding,
	EntityReport:      turn.ModuleReporting,
	EntityBudget:      turn.ModuleCampaign,
}

var campaignIDRe = regexp.MustCompile(`(?i)campaign\s+(?:id\s*)?#?([A-Za-z0-9_-]{2,})`)

// Resolve finds the entity a reference points at: completed results are
// scanned most-recent-first by module, then the message history gets a
// light-weight pattern scan. Returns the matched entity data and true, or
// nil and false. Never fails.
func Resolve(entityType string, history []conversation.Message, results []turn.ActionResult) (map[string]any, bool) {
	module, ok := entityModules[entityType]
	if ok {
		for i := len(results) - 1; i >= 0; i-- {
			if results[i].Module != module || results[i].Status == turn.StatusError {
				continue
			}
			data := results[i].Data
			if data == nil {
				data = map[string]any{}
			}
			return data, true
		}
	}

	if entityType == EntityCampaign || entityType == EntityBudget {
		for i := len(history) - 1; i >= 0; i-- {
			if m := campaignIDRe.FindStringSubmatch(history[i].Content); m != nil {
				return map[string]any{"campaign_id": m[1]}, true
			}
		}
	}

	return nil, false
}
