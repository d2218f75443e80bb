// Copyright 2020 NDP Systèmes. All Rights Reserved.
// See LICENSE file for full licensing details.

package password

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

func TestPasswords(t *testing.T) {
	Cost = bcrypt.MinCost
	Convey("Testing password hashing and verifying", t, func() {
		hashed, err := Hash("secret")
		So(err, ShouldBeNil)
		So(IsHashed(hashed), ShouldBeTrue)
		So(IsHashed("secret"), ShouldBeFalse)
		Convey("Verifying the password should work", func() {
			So(Verify("secret", hashed), ShouldBeTrue)
		})
		Convey("Verifying with wrong password should fail", func() {
			So(Verify("wrong-password", hashed), ShouldBeFalse)
		})
		Convey("PBKDF2 hashes are still accepted", func() {
			dk := pbkdf2.Key([]byte("secret"), []byte("c2FsdA=="), 1000, 32, sha256.New)
			legacy := fmt.Sprintf("$pbkdf2-sha256$1000$c2FsdA==$%s", base64.StdEncoding.EncodeToString(dk))
			So(Verify("secret", legacy), ShouldBeTrue)
			So(Verify("other", legacy), ShouldBeFalse)
			So(Verify("secret", "$pbkdf2-sha256$bad"), ShouldBeFalse)
		})
	})
}
