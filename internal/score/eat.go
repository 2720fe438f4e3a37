package score

import (
	"regexp"
	"strings"

	"github.com/IliaW/aeo-crawler/internal/model"
)

// eatWeights distributes the 100 points of the E-A-T component across
// five signals. The split differs per page type: a blog post is judged
// on authorship, a product page on trust and proof.
type eatWeights struct {
	Author      int
	Freshness   int
	Citations   int
	Trust       int
	SocialProof int
}

var eatWeightTable = map[model.PageType]eatWeights{
	model.PageBlog:       {Author: 30, Freshness: 25, Citations: 25, Trust: 10, SocialProof: 10},
	model.PageResource:   {Author: 25, Freshness: 20, Citations: 30, Trust: 15, SocialProof: 10},
	model.PageProduct:    {Author: 5, Freshness: 15, Citations: 10, Trust: 35, SocialProof: 35},
	model.PageSolution:   {Author: 10, Freshness: 15, Citations: 20, Trust: 30, SocialProof: 25},
	model.PageConversion: {Author: 5, Freshness: 10, Citations: 5, Trust: 45, SocialProof: 35},
	model.PageHomepage:   {Author: 5, Freshness: 15, Citations: 10, Trust: 40, SocialProof: 30},
}

var defaultEatWeights = eatWeights{Author: 20, Freshness: 20, Citations: 20, Trust: 20, SocialProof: 20}

var (
	trustPageRe   = regexp.MustCompile(`(?i)/(about|privacy|terms|security|legal|team|company)`)
	socialProofRe = regexp.MustCompile(`(?i)testimonial|case stud|trusted by|customers|reviews?|rated|award`)
	credentialRe  = regexp.MustCompile(`(?i)phd|md|certified|expert|years of experience|founder|ceo|cto`)
)

func scoreEat(e *model.ContentExtraction, pageType model.PageType) int {
	weights, ok := eatWeightTable[pageType]
	if !ok {
		weights = defaultEatWeights
	}

	score := 0
	score += fraction(weights.Author, authorSignal(e))
	score += fraction(weights.Freshness, freshnessSignal(e))
	score += fraction(weights.Citations, citationSignal(e))
	score += fraction(weights.Trust, trustSignal(e))
	score += fraction(weights.SocialProof, socialProofSignal(e))
	return score
}

// Each signal returns a strength in [0,1].

func authorSignal(e *model.ContentExtraction) float64 {
	if e.Author == "" {
		return 0
	}
	if credentialRe.MatchString(e.BodyText) || hasSchemaType(e, "Person") {
		return 1
	}
	return 0.6
}

func freshnessSignal(e *model.ContentExtraction) float64 {
	if e.PublishDate == "" {
		return 0
	}
	return 1
}

func citationSignal(e *model.ContentExtraction) float64 {
	outbound := len(e.OutboundLinks)
	switch {
	case outbound >= 5:
		return 1
	case outbound >= 2:
		return 0.7
	case outbound == 1:
		return 0.4
	default:
		return 0
	}
}

func trustSignal(e *model.ContentExtraction) float64 {
	strength := 0.0
	if e.HTTPS {
		strength += 0.4
	}
	for _, link := range e.InternalLinks {
		if trustPageRe.MatchString(link) {
			strength += 0.4
			break
		}
	}
	if hasSchemaType(e, "Organization") {
		strength += 0.2
	}
	if strength > 1 {
		strength = 1
	}
	return strength
}

func socialProofSignal(e *model.ContentExtraction) float64 {
	if socialProofRe.MatchString(e.BodyText) {
		if hasSchemaType(e, "Review", "AggregateRating") {
			return 1
		}
		return 0.7
	}
	if hasSchemaType(e, "Review", "AggregateRating") {
		return 0.8
	}
	return 0
}

func hasSchemaType(e *model.ContentExtraction, types ...string) bool {
	for _, have := range e.SchemaTypes {
		for _, want := range types {
			if strings.EqualFold(have, want) {
				return true
			}
		}
	}
	return false
}

func fraction(weight int, strength float64) int {
	return int(float64(weight)*strength + 0.5)
}
