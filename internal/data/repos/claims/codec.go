package claims

import (
	"encoding/json"

	"gorm.io/datatypes"

	"github.com/podsight/backend/internal/domain"
)

// JSONB helpers for the score/category blobs on claim rows.

func EncodeScores(s domain.ClaimScores) datatypes.JSON {
	b, _ := json.Marshal(s)
	return datatypes.JSON(b)
}

func DecodeScores(c *domain.Claim) domain.ClaimScores {
	var s domain.ClaimScores
	if c != nil && len(c.Scores) > 0 {
		_ = json.Unmarshal(c.Scores, &s)
	}
	return s
}

func EncodeCategoryRefs(refs []domain.CategoryRef) datatypes.JSON {
	if refs == nil {
		refs = []domain.CategoryRef{}
	}
	b, _ := json.Marshal(refs)
	return datatypes.JSON(b)
}

func DecodeCategoryRefs(c *domain.Claim) []domain.CategoryRef {
	var refs []domain.CategoryRef
	if c != nil && len(c.Categories) > 0 {
		_ = json.Unmarshal(c.Categories, &refs)
	}
	return refs
}
