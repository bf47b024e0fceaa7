package semantictokens

import (
	"sort"

	lsp "go.lsp.dev/protocol"

	lserrors "github.com/lucacox/go-lspsync/internal/errors"
)

// Legend maps the indices of a token array to names. It must be known
// before any token array can be interpreted.
type Legend struct {
	TokenTypes     []string
	TokenModifiers []string
}

// LegendFrom converts a wire legend
func LegendFrom(l lsp.SemanticTokensLegend) Legend {
	legend := Legend{
		TokenTypes:     make([]string, len(l.TokenTypes)),
		TokenModifiers: make([]string, len(l.TokenModifiers)),
	}
	for i, t := range l.TokenTypes {
		legend.TokenTypes[i] = string(t)
	}
	for i, m := range l.TokenModifiers {
		legend.TokenModifiers[i] = string(m)
	}
	return legend
}

// Protocol converts the legend to its wire form
func (l Legend) Protocol() lsp.SemanticTokensLegend {
	wire := lsp.SemanticTokensLegend{
		TokenTypes:     make([]lsp.SemanticTokenTypes, len(l.TokenTypes)),
		TokenModifiers: make([]lsp.SemanticTokenModifiers, len(l.TokenModifiers)),
	}
	for i, t := range l.TokenTypes {
		wire.TokenTypes[i] = lsp.SemanticTokenTypes(t)
	}
	for i, m := range l.TokenModifiers {
		wire.TokenModifiers[i] = lsp.SemanticTokenModifiers(m)
	}
	return wire
}

// DefaultLegend covers the predefined token types and modifiers
func DefaultLegend() Legend {
	return LegendFrom(lsp.SemanticTokensLegend{
		TokenTypes: []lsp.SemanticTokenTypes{
			lsp.SemanticTokenNamespace, lsp.SemanticTokenType, lsp.SemanticTokenClass,
			lsp.SemanticTokenEnum, lsp.SemanticTokenInterface, lsp.SemanticTokenStruct,
			lsp.SemanticTokenTypeParameter, lsp.SemanticTokenParameter, lsp.SemanticTokenVariable,
			lsp.SemanticTokenProperty, lsp.SemanticTokenEnumMember, lsp.SemanticTokenEvent,
			lsp.SemanticTokenFunction, lsp.SemanticTokenMethod, lsp.SemanticTokenMacro,
			lsp.SemanticTokenKeyword, lsp.SemanticTokenModifier, lsp.SemanticTokenComment,
			lsp.SemanticTokenString, lsp.SemanticTokenNumber, lsp.SemanticTokenRegexp,
			lsp.SemanticTokenOperator,
		},
		TokenModifiers: []lsp.SemanticTokenModifiers{
			lsp.SemanticTokenModifierDeclaration, lsp.SemanticTokenModifierDefinition,
			lsp.SemanticTokenModifierReadonly, lsp.SemanticTokenModifierStatic,
			lsp.SemanticTokenModifierDeprecated, lsp.SemanticTokenModifierAbstract,
			lsp.SemanticTokenModifierAsync, lsp.SemanticTokenModifierModification,
			lsp.SemanticTokenModifierDocumentation, lsp.SemanticTokenModifierDefaultLibrary,
		},
	})
}

// Token is one decoded token with absolute position
type Token struct {
	Line      uint32
	Start     uint32
	Length    uint32
	Type      string
	Modifiers []string
}

// Decode turns a relative token array into absolute tokens. Each token is
// five integers: line delta, start delta (relative to the previous start
// only on the same line), length, type index and modifier bit set.
func (l Legend) Decode(data []uint32) ([]Token, error) {
	if len(data)%5 != 0 {
		return nil, lserrors.NewErrorf(lserrors.ProtocolShapeError, "token array length %d is not a multiple of 5", len(data))
	}

	tokens := make([]Token, 0, len(data)/5)
	var line, start uint32
	for i := 0; i < len(data); i += 5 {
		deltaLine, deltaStart := data[i], data[i+1]
		if deltaLine == 0 {
			start += deltaStart
		} else {
			line += deltaLine
			start = deltaStart
		}

		typeIndex := data[i+3]
		if int(typeIndex) >= len(l.TokenTypes) {
			return nil, lserrors.NewErrorf(lserrors.ProtocolShapeError, "token type index %d outside legend", typeIndex)
		}

		var modifiers []string
		bits := data[i+4]
		for bit := 0; bits != 0; bit++ {
			if bits&1 == 1 {
				if bit >= len(l.TokenModifiers) {
					return nil, lserrors.NewErrorf(lserrors.ProtocolShapeError, "token modifier bit %d outside legend", bit)
				}
				modifiers = append(modifiers, l.TokenModifiers[bit])
			}
			bits >>= 1
		}

		tokens = append(tokens, Token{
			Line:      line,
			Start:     start,
			Length:    data[i+2],
			Type:      l.TokenTypes[typeIndex],
			Modifiers: modifiers,
		})
	}
	return tokens, nil
}

// Encode is the inverse of Decode. Tokens are sorted by position first;
// unknown types and modifiers are errors.
func (l Legend) Encode(tokens []Token) ([]uint32, error) {
	typeIndex := make(map[string]uint32, len(l.TokenTypes))
	for i, t := range l.TokenTypes {
		typeIndex[t] = uint32(i)
	}
	modifierBit := make(map[string]uint32, len(l.TokenModifiers))
	for i, m := range l.TokenModifiers {
		modifierBit[m] = 1 << uint(i)
	}

	sorted := make([]Token, len(tokens))
	copy(sorted, tokens)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Line != sorted[j].Line {
			return sorted[i].Line < sorted[j].Line
		}
		return sorted[i].Start < sorted[j].Start
	})

	data := make([]uint32, 0, len(sorted)*5)
	var prevLine, prevStart uint32
	for _, tok := range sorted {
		index, ok := typeIndex[tok.Type]
		if !ok {
			return nil, lserrors.NewErrorf(lserrors.ProtocolShapeError, "token type %q not in legend", tok.Type)
		}
		var bits uint32
		for _, m := range tok.Modifiers {
			bit, ok := modifierBit[m]
			if !ok {
				return nil, lserrors.NewErrorf(lserrors.ProtocolShapeError, "token modifier %q not in legend", m)
			}
			bits |= bit
		}

		deltaLine := tok.Line - prevLine
		deltaStart := tok.Start
		if deltaLine == 0 {
			deltaStart = tok.Start - prevStart
		}
		data = append(data, deltaLine, deltaStart, tok.Length, index, bits)
		prevLine, prevStart = tok.Line, tok.Start
	}
	return data, nil
}
