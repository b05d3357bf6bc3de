package smart_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jrsteele09/go-smart-launch/smart"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const testIssuer = "https://ehr.example.com/fhir"

func TestConfigurationEndpoints(t *testing.T) {
	t.Run("valid document", func(t *testing.T) {
		c := smart.Configuration{
			Issuer:                        "https://ehr.example.com",
			JWKSURI:                       "https://ehr.example.com/jwks",
			AuthorizationEndpoint:         "https://ehr.example.com/authorize",
			TokenEndpoint:                 "https://ehr.example.com/token",
			CodeChallengeMethodsSupported: []string{"S256"},
		}
		e, err := c.Endpoints(testIssuer)
		require.NoError(t, err)
		require.Equal(t, testIssuer, e.Issuer)
		require.Equal(t, "https://ehr.example.com/authorize", e.AuthorizationEndpoint)
		require.Equal(t, "https://ehr.example.com/token", e.TokenEndpoint)
		require.Equal(t, "https://ehr.example.com/jwks", e.JWKSURI)
		require.True(t, e.SupportsS256())
	})

	cases := map[string]smart.Configuration{
		"missing token endpoint":        {AuthorizationEndpoint: "https://ehr.example.com/authorize"},
		"missing authorize endpoint":    {TokenEndpoint: "https://ehr.example.com/token"},
		"relative authorize endpoint":   {AuthorizationEndpoint: "/authorize", TokenEndpoint: "https://ehr.example.com/token"},
		"non-http token endpoint":       {AuthorizationEndpoint: "https://ehr.example.com/authorize", TokenEndpoint: "ftp://ehr.example.com/token"},
		"unparseable authorize address": {AuthorizationEndpoint: "https://ehr example.com/%zz", TokenEndpoint: "https://ehr.example.com/token"},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := c.Endpoints(testIssuer)
			require.Error(t, err)
		})
	}
}

func TestSupportsS256(t *testing.T) {
	require.True(t, smart.Endpoints{}.SupportsS256())
	require.True(t, smart.Endpoints{CodeChallengeMethods: []string{"plain", "S256"}}.SupportsS256())
	require.False(t, smart.Endpoints{CodeChallengeMethods: []string{"plain"}}.SupportsS256())
}

func TestHasCapability(t *testing.T) {
	require.True(t, smart.Endpoints{}.HasCapability(smart.CapabilityLaunchEHR))
	require.True(t, smart.Endpoints{Capabilities: []string{"launch-standalone", "launch-ehr"}}.HasCapability(smart.CapabilityLaunchEHR))
	require.False(t, smart.Endpoints{Capabilities: []string{"launch-standalone"}}.HasCapability(smart.CapabilityLaunchEHR))
}

func TestCapabilityStatementConfiguration(t *testing.T) {
	const doc = `{
	  "resourceType": "CapabilityStatement",
	  "rest": [{
	    "security": {
	      "extension": [{
	        "url": "http://fhir-registry.smarthealthit.org/StructureDefinition/oauth-uris",
	        "extension": [
	          {"url": "authorize", "valueUri": "https://ehr.example.com/authorize"},
	          {"url": "token", "valueUri": "https://ehr.example.com/token"},
	          {"url": "revoke", "valueUri": "https://ehr.example.com/revoke"}
	        ]
	      }]
	    }
	  }]
	}`
	var cs smart.CapabilityStatement
	require.NoError(t, json.Unmarshal([]byte(doc), &cs))

	c, err := cs.Configuration()
	require.NoError(t, err)
	require.Equal(t, "https://ehr.example.com/authorize", c.AuthorizationEndpoint)
	require.Equal(t, "https://ehr.example.com/token", c.TokenEndpoint)
	require.Equal(t, "https://ehr.example.com/revoke", c.RevocationEndpoint)

	t.Run("without extension", func(t *testing.T) {
		var empty smart.CapabilityStatement
		require.NoError(t, json.Unmarshal([]byte(`{"resourceType":"CapabilityStatement","rest":[{}]}`), &empty))
		_, err := empty.Configuration()
		require.Error(t, err)
	})

	t.Run("wrong resource", func(t *testing.T) {
		_, err := smart.CapabilityStatement{ResourceType: "Patient"}.Configuration()
		require.Error(t, err)
	})
}

func TestFromOAuth2Token(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tok := (&oauth2.Token{
		AccessToken:  "at",
		TokenType:    "Bearer",
		RefreshToken: "rt",
		Expiry:       now.Add(time.Hour),
	}).WithExtra(map[string]interface{}{
		"scope":               "launch patient/Patient.read",
		"patient":             "123",
		"encounter":           "enc-1",
		"id_token":            "idt",
		"need_patient_banner": true,
	})

	endpoints := smart.Endpoints{
		Issuer:        testIssuer,
		TokenEndpoint: "https://ehr.example.com/token",
		OIDCIssuer:    "https://ehr.example.com",
		JWKSURI:       "https://ehr.example.com/jwks",
	}
	tr := smart.FromOAuth2Token(tok, endpoints, now)
	require.Equal(t, "at", tr.AccessToken)
	require.Equal(t, "rt", tr.RefreshToken)
	require.Equal(t, int64(3600), tr.ExpiresIn)
	require.Equal(t, "launch patient/Patient.read", tr.Scope)
	require.Equal(t, "123", tr.Patient)
	require.Equal(t, "enc-1", tr.Encounter)
	require.Equal(t, "idt", tr.IDToken)
	require.True(t, tr.NeedPatientBanner)
	require.Equal(t, testIssuer, tr.Issuer)

	require.False(t, tr.Expired(now, 30*time.Second))
	require.True(t, tr.Expired(now.Add(59*time.Minute+45*time.Second), 30*time.Second))
	require.Equal(t, endpoints, tr.Endpoints())
}

func TestSupersede(t *testing.T) {
	old := &smart.TokenResponse{
		AccessToken:   "old",
		RefreshToken:  "rt-1",
		Scope:         "launch patient/Patient.read",
		Patient:       "123",
		Issuer:        testIssuer,
		TokenEndpoint: "https://ehr.example.com/token",
	}
	next := old.Supersede(&smart.TokenResponse{AccessToken: "new"})
	require.Equal(t, "new", next.AccessToken)
	require.Equal(t, "rt-1", next.RefreshToken)
	require.Equal(t, "123", next.Patient)
	require.Equal(t, testIssuer, next.Issuer)
	require.Equal(t, "old", old.AccessToken)

	rotated := old.Supersede(&smart.TokenResponse{AccessToken: "new", RefreshToken: "rt-2"})
	require.Equal(t, "rt-2", rotated.RefreshToken)

	t.Run("identity carries over", func(t *testing.T) {
		verified := &smart.TokenResponse{
			AccessToken: "old",
			IDToken:     "idt-1",
			FHIRUser:    "Practitioner/1",
			Subject:     "user-1",
			OIDCIssuer:  "https://ehr.example.com",
			JWKSURI:     "https://ehr.example.com/jwks",
		}
		next := verified.Supersede(&smart.TokenResponse{AccessToken: "new"})
		require.Equal(t, "idt-1", next.IDToken)
		require.Equal(t, "Practitioner/1", next.FHIRUser)
		require.Equal(t, "user-1", next.Subject)
		require.Equal(t, verified.JWKSURI, next.JWKSURI)

		reissued := verified.Supersede(&smart.TokenResponse{AccessToken: "new", IDToken: "idt-2", Subject: "user-1"})
		require.Equal(t, "idt-2", reissued.IDToken)
		require.Equal(t, "Practitioner/1", reissued.FHIRUser)
	})
}

func TestScopesAndFingerprint(t *testing.T) {
	require.Equal(t, "a b", smart.NormaliseScope("  a \t b "))

	fp := smart.Fingerprint("state-value")
	require.Len(t, fp, 16)
	require.Equal(t, fp, smart.Fingerprint("state-value"))
	require.NotEqual(t, fp, smart.Fingerprint("other"))
}
