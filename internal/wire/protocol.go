// Package wire defines the line-delimited JSON request/response shapes
// InferenceService and AsPathQuerier exchange over TCP (default port 9323),
// including the IP-or-AS endpoint encoding used for both src and dst.
package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// EndpointKind distinguishes a bare AS number from an address requiring
// GeoIP translation.
type EndpointKind string

const (
	KindAS EndpointKind = "AS"
	KindIP EndpointKind = "IP"
)

// Endpoint is src or dst on the wire: either a bare AS number (no
// translation needed) or a two-element [addr, "IP"|"AS"] tuple.
type Endpoint struct {
	AS   int
	Addr string
	Kind EndpointKind // "" for a bare AS number
}

func ASEndpoint(as int) Endpoint { return Endpoint{AS: as} }

// IsBareAS reports whether this endpoint needs no GeoIP translation.
func (e Endpoint) IsBareAS() bool { return e.Kind == "" }

func (e Endpoint) MarshalJSON() ([]byte, error) {
	if e.IsBareAS() {
		return json.Marshal(e.AS)
	}
	return json.Marshal([2]string{e.Addr, string(e.Kind)})
}

func (e *Endpoint) UnmarshalJSON(data []byte) error {
	// Bare AS number: either a JSON number or a numeric string.
	var asNum int
	if err := json.Unmarshal(data, &asNum); err == nil {
		*e = Endpoint{AS: asNum}
		return nil
	}
	var asStr string
	if err := json.Unmarshal(data, &asStr); err == nil {
		n, err := strconv.Atoi(asStr)
		if err != nil {
			return fmt.Errorf("wire: endpoint %q is not a bare AS number: %w", asStr, err)
		}
		*e = Endpoint{AS: n}
		return nil
	}

	var tuple [2]string
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("wire: endpoint must be an AS number or [addr, kind] tuple: %w", err)
	}
	kind := EndpointKind(tuple[1])
	if kind != KindIP && kind != KindAS {
		return fmt.Errorf("wire: endpoint kind must be IP or AS (got %q)", tuple[1])
	}
	*e = Endpoint{Addr: tuple[0], Kind: kind}
	return nil
}

// Request is the client-to-service query.
type Request struct {
	Type string   `json:"type"`
	Tag  string   `json:"tag"`
	Src  Endpoint `json:"src"`
	Dst  Endpoint `json:"dst"`
}

func NewRequest(tag string, src, dst Endpoint) Request {
	return Request{Type: "request", Tag: tag, Src: src, Dst: dst}
}

// IXPAnnotation decorates a successful response with the IXP crossing found
// between one adjacent pair on the returned path.
type IXPAnnotation struct {
	AS1        int    `json:"as1"`
	AS2        int    `json:"as2"`
	Confidence string `json:"confidence"`
}

// Response is the service-to-client answer. Path is nil when the
// destination was searched and no path was found ("searched, none").
type Response struct {
	Type string                   `json:"type"`
	Tag  string                   `json:"tag"`
	Src  Endpoint                 `json:"src"`
	Dst  Endpoint                 `json:"dst"`
	Path *string                  `json:"path"`
	IXPs map[string]IXPAnnotation `json:"ixps,omitempty"`
}

// ErrorResponse is returned in place of Response whenever a request cannot
// be answered (malformed request, translation failure, timeout, no handler).
type ErrorResponse struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

func NewError(msg string) ErrorResponse {
	return ErrorResponse{Type: "error", Msg: msg}
}

// PeekType inspects only the "type" field of a raw response line, so a
// caller can decide whether to decode it as Response or ErrorResponse.
func PeekType(line []byte) (string, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &envelope); err != nil {
		return "", fmt.Errorf("wire: decoding response envelope: %w", err)
	}
	return envelope.Type, nil
}
