package fints

import (
	"strings"

	"github.com/custodia-labs/bankfeed/internal/core/domain"
	"github.com/custodia-labs/bankfeed/internal/logger"
)

// TANMethod is one second-factor method advertised by the bank.
type TANMethod struct {
	// Code is the numeric method identifier (e.g., "921").
	Code string
	// Name is the vendor's display name (e.g., "pushTAN 2.0").
	Name string
	// DecoupledFlag is the explicit protocol flag when present:
	// "J" decoupled, "N" interactive, "" not reported.
	DecoupledFlag string
	// NeedsMedia indicates the method requires media selection and a
	// second synchronization round before it can be used.
	NeedsMedia bool
}

// Signal records which layer of the classification heuristic decided
// whether a challenge is decoupled. Logged for observability since a
// misclassification makes the UI wait on the wrong interaction.
type Signal string

const (
	// SignalProtocolFlag means the bank set the explicit flag.
	SignalProtocolFlag Signal = "protocol_flag"
	// SignalChallengeText means a known phrase matched the challenge
	// message.
	SignalChallengeText Signal = "challenge_text"
	// SignalMethodName means a known phrase matched the method name.
	SignalMethodName Signal = "method_name"
	// SignalNone means no signal fired; the challenge is treated as
	// interactive.
	SignalNone Signal = "none"
)

// Phrases holds the keyword lists for the classification heuristic.
// The ecosystem does not reliably flag decoupled methods, so vendor
// copy changes are handled by extending these lists via configuration,
// not by rewriting logic.
type Phrases struct {
	ChallengeText []string
	MethodNames   []string
}

// DefaultPhrases returns the known vendor phrases observed in the wild.
func DefaultPhrases() Phrases {
	return Phrases{
		ChallengeText: []string{
			"in ihrer app",
			"in der app",
			"banking-app",
			"freigabe",
			"bestätigen sie",
			"approve in your app",
			"confirm in your banking app",
		},
		MethodNames: []string{
			"push",
			"decoupled",
			"secureapp",
			"bestsign",
			"appfreigabe",
		},
	}
}

// ClassifyDecoupled runs the layered heuristic: explicit protocol flag
// first, then challenge-message keywords, then method-name keywords.
// Returns the verdict and which signal fired.
func ClassifyDecoupled(method TANMethod, challengeText string, phrases Phrases) (bool, Signal) {
	switch method.DecoupledFlag {
	case "J":
		return true, SignalProtocolFlag
	case "N":
		return false, SignalProtocolFlag
	}

	lowerChallenge := strings.ToLower(challengeText)
	for _, phrase := range phrases.ChallengeText {
		if phrase != "" && strings.Contains(lowerChallenge, strings.ToLower(phrase)) {
			return true, SignalChallengeText
		}
	}

	lowerName := strings.ToLower(method.Name)
	for _, phrase := range phrases.MethodNames {
		if phrase != "" && strings.Contains(lowerName, strings.ToLower(phrase)) {
			return true, SignalMethodName
		}
	}

	return false, SignalNone
}

// challengeFor builds the domain challenge for a raised TAN request,
// classifying decoupled vs interactive and logging the fired signal.
func challengeFor(method TANMethod, text, reference string, imagePNG []byte, phrases Phrases) *domain.MFAChallenge {
	decoupled, signal := ClassifyDecoupled(method, text, phrases)
	logger.Info("fints: TAN method %s (%s) classified decoupled=%t via %s",
		method.Code, method.Name, decoupled, signal)

	mfaType := methodType(method, decoupled, imagePNG)
	return &domain.MFAChallenge{
		Type:      mfaType,
		Decoupled: decoupled,
		Message:   text,
		ImagePNG:  imagePNG,
		Reference: reference,
	}
}

func methodType(method TANMethod, decoupled bool, imagePNG []byte) domain.MFAType {
	if decoupled {
		return domain.MFATypeDecoupled
	}
	if len(imagePNG) > 0 {
		return domain.MFATypePhotoTAN
	}
	name := strings.ToLower(method.Name)
	switch {
	case strings.Contains(name, "sms"), strings.Contains(name, "mtan"):
		return domain.MFATypeSMS
	case strings.Contains(name, "chip"):
		return domain.MFATypeChipTAN
	case strings.Contains(name, "photo"):
		return domain.MFATypePhotoTAN
	}
	return domain.MFATypeAppTAN
}

// parseTANMethods extracts the advertised methods from the parameter
// segment. Each field has the form "code;name;decoupledFlag;needsMedia".
func parseTANMethods(seg *Segment) []TANMethod {
	if seg == nil {
		return nil
	}
	var out []TANMethod
	for _, f := range seg.Fields {
		parts := strings.Split(f, ";")
		if len(parts) < 2 {
			continue
		}
		m := TANMethod{Code: parts[0], Name: parts[1]}
		if len(parts) > 2 {
			m.DecoupledFlag = parts[2]
		}
		if len(parts) > 3 {
			m.NeedsMedia = parts[3] == "J"
		}
		out = append(out, m)
	}
	return out
}
