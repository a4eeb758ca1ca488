// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package utils

import "strings"

// PhoneSuffixLength is how many trailing digits identify a subscriber number
// regardless of country code or trunk prefix formatting.
const PhoneSuffixLength = 10

// PhoneDigits strips everything but ASCII digits.
func PhoneDigits(number string) string {
	var b strings.Builder
	b.Grow(len(number))
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PhoneSuffix returns the last PhoneSuffixLength digits of number, or all of
// them when the number is shorter.
func PhoneSuffix(number string) string {
	digits := PhoneDigits(number)
	if len(digits) <= PhoneSuffixLength {
		return digits
	}
	return digits[len(digits)-PhoneSuffixLength:]
}
