package dht

import "encoding/base64"

func encodeSig(sig []byte) string {
	return base64.StdEncoding.EncodeToString(sig)
}

func decodeSig(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
