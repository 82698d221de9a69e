package auth

// Identifier length caps per protocol version.
const (
	MaxIDTagLength   = 20 // OCPP 1.6 CiString20
	MaxIDTokenLength = 36 // OCPP 2.0.1 IdToken
)

// OCPP16Adapter converts bare 1.6 idTag strings to the unified identifier
// and back, enforcing the 20-character cap.
type OCPP16Adapter struct{}

// ToUnified wraps an idTag. Overlong tags are truncated to the wire cap so a
// malformed template entry cannot produce invalid frames.
func (OCPP16Adapter) ToUnified(idTag string) Identifier {
	if len(idTag) > MaxIDTagLength {
		idTag = idTag[:MaxIDTagLength]
	}
	return Identifier{Value: idTag, Type: TokenIDTag, OCPPVersion: "1.6"}
}

// FromUnified extracts the wire idTag.
func (OCPP16Adapter) FromUnified(id Identifier) string {
	if len(id.Value) > MaxIDTagLength {
		return id.Value[:MaxIDTagLength]
	}
	return id.Value
}

// OCPP20Token is the typed 2.0.1 idToken shape.
type OCPP20Token struct {
	IDToken string `json:"idToken"`
	Type    string `json:"type"`
}

// OCPP20Adapter converts 2.0.1 typed tokens to the unified identifier.
type OCPP20Adapter struct{}

// ToUnified maps a typed token; unknown types default to ISO14443, the
// common RFID case.
func (OCPP20Adapter) ToUnified(token OCPP20Token) Identifier {
	value := token.IDToken
	if len(value) > MaxIDTokenLength {
		value = value[:MaxIDTokenLength]
	}
	tokenType := TokenType(token.Type)
	switch tokenType {
	case TokenCentral, TokenLocal, TokenEMAID, TokenISO14443, TokenISO15693, TokenKeyCode, TokenMACAddress:
	default:
		tokenType = TokenISO14443
	}
	return Identifier{Value: value, Type: tokenType, OCPPVersion: "2.0.1"}
}

// FromUnified produces the wire token.
func (OCPP20Adapter) FromUnified(id Identifier) OCPP20Token {
	value := id.Value
	if len(value) > MaxIDTokenLength {
		value = value[:MaxIDTokenLength]
	}
	tokenType := string(id.Type)
	if id.Type == TokenIDTag || tokenType == "" {
		tokenType = string(TokenISO14443)
	}
	return OCPP20Token{IDToken: value, Type: tokenType}
}
