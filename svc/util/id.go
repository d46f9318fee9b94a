package util

import (
	"crypto/rand"
	"math/big"
	"regexp"

	"github.com/pkg/errors"
)

const (
	base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	IDLength    = 20
	idRetries   = 5
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9]{20}$`)

// ValidID reports whether s has the shape of a paste, comment or token id.
func ValidID(s string) bool {
	return idPattern.MatchString(s)
}

// GenID returns a fresh 20 character base62 id that exists reports as unused.
func GenID(exists func(string) (bool, error)) (string, error) {
	max := new(big.Int).Exp(big.NewInt(62), big.NewInt(IDLength), nil)
	for retry := 0; retry < idRetries; retry++ {
		num, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", errors.Wrap(err, "rand fail")
		}
		id := toBase62(num)
		exist, err := exists(id)
		if err != nil {
			return "", err
		}
		if !exist {
			return id, nil
		}
	}
	return "", errors.Errorf("id collision after %d retries", idRetries)
}

func toBase62(num *big.Int) string {
	base := big.NewInt(62)
	result := make([]byte, 0, IDLength)
	temp := new(big.Int).Set(num)
	mod := new(big.Int)
	for temp.Sign() > 0 {
		temp.DivMod(temp, base, mod)
		result = append(result, base62Chars[mod.Int64()])
	}
	for len(result) < IDLength {
		result = append(result, base62Chars[0])
	}
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return string(result)
}
