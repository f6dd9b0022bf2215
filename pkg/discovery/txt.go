package discovery

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/agentwire-protocol/agentwire-go/pkg/version"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeGatewayTXT creates the TXT records for a gateway advertisement.
func EncodeGatewayTXT(info *GatewayInfo) TXTRecordMap {
	txt := make(TXTRecordMap)

	txt[TXTKeyProtocol] = strconv.Itoa(version.ProtocolMax)
	if info.Name != "" {
		txt[TXTKeyName] = info.Name
	}
	if info.Fingerprint != "" {
		fp := info.Fingerprint
		if len(fp) > FingerprintPrefixLen {
			fp = fp[:FingerprintPrefixLen]
		}
		txt[TXTKeyFingerprint] = fp
	}
	if info.TLS {
		txt[TXTKeyTLS] = "1"
	}

	return txt
}

// DecodeGatewayTXT parses the TXT records of a gateway advertisement.
func DecodeGatewayTXT(txt TXTRecordMap) (*GatewayService, error) {
	protoStr, ok := txt[TXTKeyProtocol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyProtocol)
	}
	proto, err := strconv.Atoi(protoStr)
	if err != nil || proto < 1 {
		return nil, fmt.Errorf("%w: bad protocol version %q", ErrInvalidTXT, protoStr)
	}

	return &GatewayService{
		Protocol:    proto,
		Name:        txt[TXTKeyName],
		Fingerprint: txt[TXTKeyFingerprint],
		TLS:         txt[TXTKeyTLS] == "1",
	}, nil
}

// TXTRecordsToStrings converts a TXT map to "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	strs := make([]string, 0, len(txt))
	for k, v := range txt {
		strs = append(strs, k+"="+v)
	}
	return strs
}

// StringsToTXTRecords parses "key=value" strings into a TXT map.
// Malformed entries and boolean-style bare keys are skipped.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap, len(strs))
	for _, s := range strs {
		key, value, found := strings.Cut(s, "=")
		if !found || key == "" {
			continue
		}
		txt[key] = value
	}
	return txt
}
