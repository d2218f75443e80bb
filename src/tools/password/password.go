// Copyright 2020 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

// Package password provides functions to Hash and Verify user passwords.
//
// New hashes are bcrypt hashes. PBKDF2/SHA256 hashes in
// '$pbkdf2-sha256$<N iter>$<salt>$<key>' format are still verified so that
// imported user tables keep working.
package password

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

// Cost is the bcrypt cost used to hash new passwords
var Cost = bcrypt.DefaultCost

// Hash returns the bcrypt hash of the given password
func Hash(password string) (string, error) {
	res, err := bcrypt.GenerateFromPassword([]byte(password), Cost)
	if err != nil {
		return "", err
	}
	return string(res), nil
}

// IsHashed returns true if the given string looks like a password hash
// produced or accepted by this package.
func IsHashed(str string) bool {
	return strings.HasPrefix(str, "$2a$") || strings.HasPrefix(str, "$2b$") || strings.HasPrefix(str, "$pbkdf2-sha256$")
}

// Verify returns true if the given password matches the given hash
func Verify(password, hash string) bool {
	if strings.HasPrefix(hash, "$pbkdf2-sha256$") {
		return verifyPBKDF2(password, hash)
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func verifyPBKDF2(password, hash string) bool {
	split := strings.Split(strings.TrimPrefix(hash, "$"), "$")
	if len(split) != 4 {
		return false
	}
	iter, err := strconv.Atoi(split[1])
	if err != nil {
		return false
	}
	salt := []byte(split[2])
	dk := pbkdf2.Key([]byte(password), salt, iter, 32, sha256.New)
	hashedPW := fmt.Sprintf("$pbkdf2-sha256$%d$%s$%s", iter, split[2], base64.StdEncoding.EncodeToString(dk))
	return subtle.ConstantTimeCompare([]byte(hash), []byte(hashedPW)) == 1
}
