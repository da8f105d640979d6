// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package sdp

import "strconv"

const (
	FORMAT_TYPE_ULAW            = "0"
	FORMAT_TYPE_ALAW            = "8"
	FORMAT_TYPE_G722            = "9"
	FORMAT_TYPE_G729            = "18"
	FORMAT_TYPE_OPUS            = "96"
	FORMAT_TYPE_TELEPHONE_EVENT = "101"
)

type Formats []string

func NewFormats(fmts ...string) Formats {
	return Formats(fmts)
}

//	If the <proto> sub-field is "RTP/AVP" or "RTP/SAVP" the <fmt>//
//
// sub-fields contain RTP payload type numbers.
func (fmts Formats) ToNumeric() (nfmts []int, err error) {
	nfmt := make([]int, len(fmts))
	for i, f := range fmts {
		nfmt[i], err = strconv.Atoi(f)
		if err != nil {
			return
		}
	}
	return nfmt, nil
}

// FormatNumeric parses a dynamic or static RTP/AVP payload type string.
// Returns 0 for an unparsable format, which collides with PT 0 (ULAW) —
// callers that care about the distinction should check ToNumeric first.
func FormatNumeric(f string) uint8 {
	n, err := strconv.Atoi(f)
	if err != nil {
		return 0
	}
	return uint8(n)
}
