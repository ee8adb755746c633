package dahuarpc

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// AuthParam is the challenge returned by the first login call.
type AuthParam struct {
	Encryption string `json:"encryption"`
	Random     string `json:"random"`
	Realm      string `json:"realm"`
}

// Auth derives the password field for the second login call.
func Auth(username, password string, param AuthParam) string {
	switch param.Encryption {
	case "Basic":
		return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	case "Default":
		inner := md5Upper(username + ":" + param.Realm + ":" + password)
		return md5Upper(username + ":" + param.Random + ":" + inner)
	default:
		return password
	}
}

func md5Upper(s string) string {
	sum := md5.Sum([]byte(s))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
