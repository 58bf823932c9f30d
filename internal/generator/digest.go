package generator

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"unicode/utf8"

	"github.com/seantiz/kiln/internal/model"
)

// KindDigest is the name of the iterated SHA-256 generator.
const KindDigest = "digest"

const (
	maxDigestTextLen = 4096
	maxDigestRounds  = 100000
	digestSteps      = 4
)

// Digest hashes text with SHA-256, feeding each round's digest into the next.
type Digest struct{}

type digestResult struct {
	Algorithm string `json:"algorithm"`
	Rounds    int    `json:"rounds"`
	Digest    string `json:"digest"`
}

func (Digest) Profile() Profile {
	return Profile{
		Name:        KindDigest,
		Description: "iterated SHA-256 digest of a text value",
		Required:    []string{"text"},
		Optional:    []string{"rounds"},
		Steps:       digestSteps,
	}
}

func (Digest) Validate(params model.Parameters) error {
	_, _, err := digestInputs(params)
	return err
}

func (Digest) Generate(params model.Parameters) (json.RawMessage, error) {
	text, rounds, err := digestInputs(params)
	if err != nil {
		return nil, &ComputationError{Kind: KindDigest, Err: err}
	}

	sum := sha256.Sum256([]byte(text))
	for i := 1; i < rounds; i++ {
		sum = sha256.Sum256(sum[:])
	}

	out, err := json.Marshal(digestResult{
		Algorithm: "sha256",
		Rounds:    rounds,
		Digest:    hex.EncodeToString(sum[:]),
	})
	if err != nil {
		return nil, &ComputationError{Kind: KindDigest, Err: err}
	}
	return out, nil
}

func digestInputs(params model.Parameters) (string, int, error) {
	if _, present := params["text"]; !present {
		return "", 0, &ParamError{Param: "text", Reason: "is required"}
	}
	text, ok := params.String("text")
	if !ok {
		return "", 0, &ParamError{Param: "text", Reason: "must be a string"}
	}
	if text == "" || utf8.RuneCountInString(text) > maxDigestTextLen {
		return "", 0, &ParamError{Param: "text", Reason: "must be between 1 and 4096 characters"}
	}

	raw, err := optionalNumber(params, "rounds", 1)
	if err != nil {
		return "", 0, err
	}
	rounds, err := integerInRange("rounds", raw, 1, maxDigestRounds)
	if err != nil {
		return "", 0, err
	}
	return text, rounds, nil
}
