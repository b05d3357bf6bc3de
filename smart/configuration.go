package smart

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	// WellKnownPath is appended to the issuer for SMART discovery.
	WellKnownPath = "/.well-known/smart-configuration"

	// MetadataPath is the FHIR conformance statement used as a fallback.
	MetadataPath = "/metadata"

	// OAuthURIsExtension marks the security extension of a CapabilityStatement
	// that carries the authorization server endpoints.
	OAuthURIsExtension = "http://fhir-registry.smarthealthit.org/StructureDefinition/oauth-uris"

	// CapabilityLaunchEHR is advertised by servers that support EHR launch.
	CapabilityLaunchEHR = "launch-ehr"
)

// Configuration is the SMART configuration document served at
// {iss}/.well-known/smart-configuration.
type Configuration struct {
	Issuer                            string   `json:"issuer,omitempty"`
	JWKSURI                           string   `json:"jwks_uri,omitempty"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported,omitempty"`
	ManagementEndpoint                string   `json:"management_endpoint,omitempty"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint,omitempty"`
	RevocationEndpoint                string   `json:"revocation_endpoint,omitempty"`
	Capabilities                      []string `json:"capabilities,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
}

// Endpoints is the validated subset of discovery the launch sequence needs.
type Endpoints struct {
	// Issuer is the FHIR base URL the endpoints were discovered for.
	Issuer                string
	AuthorizationEndpoint string
	TokenEndpoint         string

	// OIDCIssuer and JWKSURI enable ID token verification when both are set.
	OIDCIssuer string
	JWKSURI    string

	CodeChallengeMethods []string
	Capabilities         []string
}

// SupportsS256 reports whether the server advertised S256 PKCE. An empty
// list is treated as support since many servers omit the field.
func (e Endpoints) SupportsS256() bool {
	if len(e.CodeChallengeMethods) == 0 {
		return true
	}
	for _, m := range e.CodeChallengeMethods {
		if m == string(CodeMethodTypeS256) {
			return true
		}
	}
	return false
}

// HasCapability reports whether the server advertised capability. Servers
// that publish no capabilities are assumed to support it.
func (e Endpoints) HasCapability(capability string) bool {
	if len(e.Capabilities) == 0 {
		return true
	}
	for _, c := range e.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Endpoints validates the document and returns the endpoints for issuer.
func (c Configuration) Endpoints(issuer string) (Endpoints, error) {
	if err := validateEndpoint("authorization_endpoint", c.AuthorizationEndpoint); err != nil {
		return Endpoints{}, err
	}
	if err := validateEndpoint("token_endpoint", c.TokenEndpoint); err != nil {
		return Endpoints{}, err
	}
	return Endpoints{
		Issuer:                issuer,
		AuthorizationEndpoint: c.AuthorizationEndpoint,
		TokenEndpoint:         c.TokenEndpoint,
		OIDCIssuer:            c.Issuer,
		JWKSURI:               c.JWKSURI,
		CodeChallengeMethods:  c.CodeChallengeMethodsSupported,
		Capabilities:          c.Capabilities,
	}, nil
}

// CapabilityStatement is the subset of a FHIR CapabilityStatement that
// carries the OAuth endpoints.
type CapabilityStatement struct {
	ResourceType string `json:"resourceType"`
	Rest         []struct {
		Security struct {
			Extension []Extension `json:"extension"`
		} `json:"security"`
	} `json:"rest"`
}

// Extension is a FHIR extension with either a URI value or nested extensions.
type Extension struct {
	URL       string      `json:"url"`
	ValueURI  string      `json:"valueUri,omitempty"`
	Extension []Extension `json:"extension,omitempty"`
}

// Configuration extracts the oauth-uris extension into a Configuration.
func (cs CapabilityStatement) Configuration() (Configuration, error) {
	if cs.ResourceType != "" && cs.ResourceType != "CapabilityStatement" && cs.ResourceType != "Conformance" {
		return Configuration{}, fmt.Errorf("unexpected resourceType %q", cs.ResourceType)
	}
	for _, rest := range cs.Rest {
		for _, ext := range rest.Security.Extension {
			if ext.URL != OAuthURIsExtension {
				continue
			}
			var c Configuration
			for _, sub := range ext.Extension {
				switch sub.URL {
				case "authorize":
					c.AuthorizationEndpoint = sub.ValueURI
				case "token":
					c.TokenEndpoint = sub.ValueURI
				case "revoke":
					c.RevocationEndpoint = sub.ValueURI
				case "manage":
					c.ManagementEndpoint = sub.ValueURI
				case "register":
					c.RegistrationEndpoint = sub.ValueURI
				}
			}
			return c, nil
		}
	}
	return Configuration{}, fmt.Errorf("no %s extension", OAuthURIsExtension)
}

func validateEndpoint(name, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s missing", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s unparseable", name)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%s not absolute", name)
	}
	if s := strings.ToLower(u.Scheme); s != "https" && s != "http" {
		return fmt.Errorf("%s has unsupported scheme %q", name, u.Scheme)
	}
	return nil
}
