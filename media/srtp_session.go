// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package media

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/rtp"
	"github.com/pion/srtp/v3"
)

// srtpContext wraps a pion/srtp Context to give MediaSession plain
// []byte-in/[]byte-out encrypt/decrypt calls, keeping the RTP/RTCP
// read/write paths free of SRTP-specific types when SecureRTP is off.
type srtpContext struct {
	ctx *srtp.Context
}

func (c *srtpContext) encryptRTP(plain []byte) ([]byte, error) {
	var hdr rtp.Header
	if _, err := hdr.Unmarshal(plain); err != nil {
		return nil, fmt.Errorf("parsing rtp header before encrypt: %w", err)
	}
	return c.ctx.EncryptRTP(nil, plain, &hdr)
}

func (c *srtpContext) decryptRTP(encrypted []byte) ([]byte, error) {
	var hdr rtp.Header
	if _, err := hdr.Unmarshal(encrypted); err != nil {
		return nil, fmt.Errorf("parsing rtp header before decrypt: %w", err)
	}
	return c.ctx.DecryptRTP(nil, encrypted, &hdr)
}

// generateMasterKeySalt picks random key material sized for profile, as
// required by SDES (RFC 4568): the a=crypto inline value is base64(key||salt).
func generateMasterKeySalt(profile srtp.ProtectionProfile) ([]byte, int, error) {
	keyLen, err := profile.KeyLen()
	if err != nil {
		return nil, 0, fmt.Errorf("srtp key len: %w", err)
	}
	saltLen, err := profile.SaltLen()
	if err != nil {
		return nil, 0, fmt.Errorf("srtp salt len: %w", err)
	}

	buf := make([]byte, keyLen+saltLen)
	if _, err := rand.Read(buf); err != nil {
		return nil, 0, err
	}
	return buf, keyLen, nil
}

// setupLocalSRTP generates fresh SDES key material for this session,
// builds the local encrypt context, and returns the "a=crypto:" SDP line
// to advertise it.
func (s *MediaSession) setupLocalSRTP() (string, error) {
	profile := srtp.ProtectionProfile(s.SRTPProfile)
	if profile == 0 {
		profile = srtp.ProtectionProfileAes128CmHmacSha1_80
		s.SRTPProfile = uint16(profile)
	}

	keysalt, keyLen, err := generateMasterKeySalt(profile)
	if err != nil {
		return "", err
	}
	masterKey, masterSalt := keysalt[:keyLen], keysalt[keyLen:]

	ctx, err := srtp.CreateContext(masterKey, masterSalt, profile)
	if err != nil {
		return "", fmt.Errorf("CreateContext: %w", err)
	}
	s.localCtxSRTP = &srtpContext{ctx: ctx}

	tag := s.srtpLocalTag
	if tag == 0 {
		tag = 1
	}
	if s.srtpRemoteTag > 0 {
		// Match the peer's tag so re-offers stay stable.
		tag = s.srtpRemoteTag
	}
	s.srtpLocalTag = tag

	inline := base64.StdEncoding.EncodeToString(keysalt)
	return fmt.Sprintf("a=crypto:%d %s inline:%s", tag, srtpProfileString(profile), inline), nil
}

// parseRemoteSRTP scans the "a=" attribute lines of a received SDP for a
// crypto attribute matching s.SRTPProfile (or the first one understood,
// if none was set yet) and builds the remote decrypt context from it.
func (s *MediaSession) parseRemoteSRTP(attrs []string) error {
	for _, v := range attrs {
		if !strings.HasPrefix(v, "crypto:") {
			continue
		}

		fields := strings.Fields(v)
		if len(fields) < 3 {
			return fmt.Errorf("bad crypto attribute: %q", v)
		}

		tag, err := strconv.Atoi(strings.TrimPrefix(fields[0], "crypto:"))
		if err != nil {
			return fmt.Errorf("bad crypto tag in %q: %w", v, err)
		}

		profile := srtpProfileParse(fields[1])
		if profile == 0 {
			continue
		}
		if s.SRTPProfile != 0 && s.SRTPProfile != uint16(profile) {
			continue
		}

		inline := strings.TrimPrefix(fields[2], "inline:")
		keysalt, err := base64.StdEncoding.DecodeString(inline)
		if err != nil {
			return fmt.Errorf("decoding SDES key: %w", err)
		}

		keyLen, err := profile.KeyLen()
		if err != nil {
			return err
		}
		if len(keysalt) <= keyLen {
			return fmt.Errorf("SDES key material too short for profile")
		}
		masterKey, masterSalt := keysalt[:keyLen], keysalt[keyLen:]

		ctx, err := srtp.CreateContext(masterKey, masterSalt, profile)
		if err != nil {
			return fmt.Errorf("CreateContext: %w", err)
		}

		s.remoteCtxSRTP = &srtpContext{ctx: ctx}
		s.srtpRemoteTag = tag
		s.SRTPProfile = uint16(profile)
		return nil
	}
	return fmt.Errorf("no supported a=crypto attribute found in remote SDP")
}
