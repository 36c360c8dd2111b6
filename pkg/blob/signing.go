package blob

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/cuemby/granary/pkg/security"
)

const (
	signingAlgorithm = "AWS4-HMAC-SHA256"
	// UnsignedPayload is the sentinel hash for payloads the caller opted not
	// to hash. The registry always hashes; this exists for completeness.
	UnsignedPayload = "UNSIGNED-PAYLOAD"

	amzDateFormat = "20060102T150405Z"
	dateFormat    = "20060102"
)

// Signer signs S3 requests with AWS Signature Version 4.
type Signer struct {
	AccessKey string
	SecretKey string
	Region    string
	Service   string // defaults to "s3"

	// Now is the clock, replaceable in tests.
	Now func() time.Time
}

func (s *Signer) service() string {
	if s.Service == "" {
		return "s3"
	}
	return s.Service
}

func (s *Signer) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Sign computes the SigV4 signature over the request and sets the x-amz-date,
// x-amz-content-sha256 and Authorization headers. payloadHash is the lowercase
// hex SHA-256 of the body.
func (s *Signer) Sign(req *http.Request, payloadHash string) {
	now := s.now()
	req.Header.Set("x-amz-date", now.Format(amzDateFormat))
	req.Header.Set("x-amz-content-sha256", payloadHash)

	headers := signedHeaders(req)
	canonical := canonicalRequest(req, headers, payloadHash)
	stringToSign := s.stringToSign(now, canonical)
	signature := hmacHex(s.signingKey(now), stringToSign)

	req.Header.Set("Authorization", fmt.Sprintf(
		"%s Credential=%s/%s/%s/%s/aws4_request,SignedHeaders=%s,Signature=%s",
		signingAlgorithm,
		s.AccessKey,
		now.Format(dateFormat),
		s.Region,
		s.service(),
		strings.Join(headerNames(headers), ";"),
		signature,
	))
}

// Presign builds a pre-signed GET URL for the request path, valid for expiry.
// Query-string authentication signs only the host header and uses
// UNSIGNED-PAYLOAD, per the SigV4 query rules.
func (s *Signer) Presign(req *http.Request, expiry time.Duration) string {
	now := s.now()
	scope := fmt.Sprintf("%s/%s/%s/aws4_request", now.Format(dateFormat), s.Region, s.service())

	query := req.URL.Query()
	query.Set("X-Amz-Algorithm", signingAlgorithm)
	query.Set("X-Amz-Credential", s.AccessKey+"/"+scope)
	query.Set("X-Amz-Date", now.Format(amzDateFormat))
	query.Set("X-Amz-Expires", fmt.Sprintf("%d", int(expiry.Seconds())))
	query.Set("X-Amz-SignedHeaders", "host")
	req.URL.RawQuery = query.Encode()

	headers := [][2]string{{"host", req.Host}}
	canonical := canonicalRequest(req, headers, UnsignedPayload)
	stringToSign := s.stringToSign(now, canonical)
	signature := hmacHex(s.signingKey(now), stringToSign)

	return req.URL.String() + "&X-Amz-Signature=" + signature
}

// signedHeaders collects the headers to sign: everything already on the
// request plus the host header, lowercased and sorted by name.
func signedHeaders(req *http.Request) [][2]string {
	headers := make([][2]string, 0, len(req.Header)+1)
	headers = append(headers, [2]string{"host", req.Host})
	for name, values := range req.Header {
		headers = append(headers, [2]string{strings.ToLower(name), strings.Join(values, ",")})
	}
	sort.Slice(headers, func(i, j int) bool { return headers[i][0] < headers[j][0] })
	return headers
}

func headerNames(headers [][2]string) []string {
	names := make([]string, len(headers))
	for i, h := range headers {
		names[i] = h[0]
	}
	return names
}

// canonicalRequest builds and hashes the canonical request:
//
//	METHOD \n URI \n QUERY \n HEADERS \n \n SIGNED_HEADERS \n PAYLOAD_HASH
func canonicalRequest(req *http.Request, headers [][2]string, payloadHash string) string {
	parts := []string{req.Method, EncodeURI(req.URL.Path), canonicalQuery(req)}
	for _, h := range headers {
		parts = append(parts, h[0]+":"+strings.TrimSpace(h[1]))
	}
	parts = append(parts, "", strings.Join(headerNames(headers), ";"), payloadHash)
	return security.Sha256Hex([]byte(strings.Join(parts, "\n")))
}

// canonicalQuery renders the query parameters sorted by encoded key, then
// value.
func canonicalQuery(req *http.Request) string {
	query := req.URL.Query()
	if len(query) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(query))
	for key, values := range query {
		for _, value := range values {
			pairs = append(pairs, encodeQueryComponent(key)+"="+encodeQueryComponent(value))
		}
	}
	sort.Strings(pairs)
	return strings.Join(pairs, "&")
}

// encodeQueryComponent is EncodeURI without '/' in the passthrough set, as
// required for query strings.
func encodeQueryComponent(input string) string {
	return encode(input, false)
}

// EncodeURI escapes every byte outside the SigV4 passthrough set
//
//	A-Z a-z 0-9 / - _ . ~
//
// as uppercase %XX. It is idempotent on its own output restricted to the
// passthrough set.
func EncodeURI(input string) string {
	return encode(input, true)
}

func encode(input string, allowSlash bool) string {
	var sb strings.Builder
	sb.Grow(len(input))
	for i := 0; i < len(input); i++ {
		c := input[i]
		if passthrough(c, allowSlash) {
			sb.WriteByte(c)
		} else {
			sb.WriteString(fmt.Sprintf("%%%02X", c))
		}
	}
	return sb.String()
}

func passthrough(c byte, allowSlash bool) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_' || c == '.' || c == '~':
		return true
	case c == '/':
		return allowSlash
	default:
		return false
	}
}

// stringToSign joins the algorithm, timestamp, credential scope and the
// canonical request hash.
func (s *Signer) stringToSign(now time.Time, canonicalHash string) string {
	return strings.Join([]string{
		signingAlgorithm,
		now.Format(amzDateFormat),
		fmt.Sprintf("%s/%s/%s/aws4_request", now.Format(dateFormat), s.Region, s.service()),
		canonicalHash,
	}, "\n")
}

// signingKey derives the per-day signing key:
//
//	HMAC(HMAC(HMAC(HMAC("AWS4"+secret, date), region), service), "aws4_request")
func (s *Signer) signingKey(now time.Time) []byte {
	key := hmacSHA256([]byte("AWS4"+s.SecretKey), []byte(now.Format(dateFormat)))
	key = hmacSHA256(key, []byte(s.Region))
	key = hmacSHA256(key, []byte(s.service()))
	return hmacSHA256(key, []byte("aws4_request"))
}

func hmacSHA256(key, message []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}

func hmacHex(key []byte, message string) string {
	return hex.EncodeToString(hmacSHA256(key, []byte(message)))
}
