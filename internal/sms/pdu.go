// Package sms – PDU encoding.
//
// EncodeSubmit renders an SMS-SUBMIT TPDU (GSM 03.40) as the hex string the
// modem expects after AT+CMGS in PDU mode. Messages that fit the default
// GSM 7-bit alphabet are packed into septets; anything else falls back to
// UCS-2. The SMSC field is left empty (0x00) so the modem uses its stored
// message-center address, which the adapter configures at init.

package sms

import (
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf16"
)

// gsm7Basic is the default GSM 7-bit alphabet, indexed by septet value.
// Characters outside this table (ignoring the extension table, which we do
// not emit) force UCS-2 encoding.
const gsm7Basic = "@£$¥èéùìòÇ\nØø\rÅåΔ_ΦΓΛΩΠΨΣΘΞ\x1bÆæßÉ !\"#¤%&'()*+,-./0123456789:;<=>?" +
	"¡ABCDEFGHIJKLMNOPQRSTUVWXYZÄÖÑÜ§¿abcdefghijklmnopqrstuvwxyzäöñüà"

// gsm7Index maps runes to their septet value.
var gsm7Index = func() map[rune]byte {
	m := make(map[rune]byte, 128)
	for i, r := range []rune(gsm7Basic) {
		m[r] = byte(i)
	}
	return m
}()

// maxPDUSeptets is the single-TPDU user-data limit for 7-bit messages.
const maxPDUSeptets = 160

// maxPDUUCS2Units is the single-TPDU limit for UCS-2 messages, counted in
// UTF-16 code units (140 octets of user data). Astral runes such as emoji
// take two units each, so they count double against the budget.
const maxPDUUCS2Units = 70

// EncodeSubmit builds the SMS-SUBMIT PDU for recipient/body. It returns the
// hex payload and the TPDU octet count (the length argument for AT+CMGS).
//
// Bodies longer than a single TPDU are truncated to fit rather than split
// into concatenated parts; the composer keeps messages inside the single or
// double text-segment budget, and the PDU fallback only needs to carry what
// TEXT mode would have.
func EncodeSubmit(recipient, body string) (string, int, error) {
	addr, err := encodeAddress(recipient)
	if err != nil {
		return "", 0, err
	}

	var (
		dcs byte
		ud  []byte
		udl byte
	)
	if isGSM7(body) {
		runes := []rune(body)
		if len(runes) > maxPDUSeptets {
			runes = runes[:maxPDUSeptets]
		}
		septets := make([]byte, len(runes))
		for i, r := range runes {
			septets[i] = gsm7Index[r]
		}
		dcs = 0x00
		udl = byte(len(septets))
		ud = packSeptets(septets)
	} else {
		units := utf16.Encode([]rune(body))
		if len(units) > maxPDUUCS2Units {
			units = units[:maxPDUUCS2Units]
			// Never cut a surrogate pair in half; drop the dangling high half.
			if last := units[len(units)-1]; 0xD800 <= last && last < 0xDC00 {
				units = units[:len(units)-1]
			}
		}
		dcs = 0x08
		ud = make([]byte, 0, len(units)*2)
		for _, u := range units {
			ud = append(ud, byte(u>>8), byte(u))
		}
		udl = byte(len(ud))
	}

	tpdu := make([]byte, 0, 16+len(ud))
	tpdu = append(tpdu,
		0x11, // SMS-SUBMIT, relative validity period present
		0x00, // message reference: let the modem assign
	)
	tpdu = append(tpdu, addr...)
	tpdu = append(tpdu,
		0x00, // protocol identifier: standard SMS
		dcs,
		0xAA, // validity: 4 days
		udl,
	)
	tpdu = append(tpdu, ud...)

	// Leading 00 = no SMSC in the PDU; the modem's stored SMSC applies.
	// The AT+CMGS length argument excludes that SMSC octet.
	return "00" + strings.ToUpper(hex.EncodeToString(tpdu)), len(tpdu), nil
}

// encodeAddress renders the TP-DA field: digit count, type-of-address, and
// semi-octet swapped digits. A leading '+' selects the international type.
func encodeAddress(recipient string) ([]byte, error) {
	toa := byte(0x81) // unknown numbering plan ISDN
	digits := strings.TrimSpace(recipient)
	if strings.HasPrefix(digits, "+") {
		toa = 0x91 // international
		digits = digits[1:]
	}
	if digits == "" {
		return nil, fmt.Errorf("empty recipient address")
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("recipient %q contains non-digit %q", recipient, r)
		}
	}
	out := []byte{byte(len(digits)), toa}
	return append(out, swapSemiOctets(digits)...), nil
}

// swapSemiOctets packs decimal digits two per octet, low nibble first,
// padding an odd final digit with 0xF.
func swapSemiOctets(digits string) []byte {
	out := make([]byte, 0, (len(digits)+1)/2)
	for i := 0; i < len(digits); i += 2 {
		lo := digits[i] - '0'
		hi := byte(0x0F)
		if i+1 < len(digits) {
			hi = digits[i+1] - '0'
		}
		out = append(out, hi<<4|lo)
	}
	return out
}

// packSeptets packs 7-bit values into octets per GSM 03.38: each octet
// carries the remainder of one septet plus the low bits of the next, so
// every 8 septets collapse into 7 octets.
func packSeptets(septets []byte) []byte {
	out := make([]byte, 0, (len(septets)*7+7)/8)
	for i := 0; i < len(septets); i++ {
		shift := uint(i % 8)
		if shift == 7 {
			// Fully merged into the previous octet.
			continue
		}
		octet := septets[i] >> shift
		if i+1 < len(septets) {
			octet |= septets[i+1] << (7 - shift)
		}
		out = append(out, octet)
	}
	return out
}

// isGSM7 reports whether every rune of s is in the default 7-bit alphabet.
func isGSM7(s string) bool {
	for _, r := range s {
		if _, ok := gsm7Index[r]; !ok {
			return false
		}
	}
	return true
}
