// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package toolexec

import (
	"context"
	"fmt"
	"net"
	"strings"
)

// blockedHostSuffixes are hostname suffixes that resolve (or are
// intended to resolve) to loopback/internal addresses regardless of
// what DNS currently answers for them.
var blockedHostSuffixes = []string{
	".local", ".internal", ".lan", ".home", ".corp", ".intranet",
}

// validateHost rejects a hostname outright if it is a well-known
// loopback alias or carries a blocked suffix, then resolves it and
// rejects it if ANY returned A/AAAA record is a disallowed IP. Checking
// every resolved address - not just the first - defends against
// DNS-rebinding, where a host answers a benign address on the
// allowlist check and a private address at request time.
func validateHost(ctx context.Context, host string) error {
	lower := strings.ToLower(host)
	if lower == "localhost" {
		return fmt.Errorf("toolexec: host %q is blocked", host)
	}
	for _, suffix := range blockedHostSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return fmt.Errorf("toolexec: host %q matches blocked suffix %q", host, suffix)
		}
	}

	if ip := net.ParseIP(host); ip != nil {
		return validateIP(ip)
	}

	resolver := net.DefaultResolver
	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("toolexec: resolve %q: %w", host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("toolexec: host %q resolved to no addresses", host)
	}
	for _, addr := range addrs {
		if err := validateIP(addr.IP); err != nil {
			return err
		}
	}
	return nil
}

// validateIP rejects loopback, private, link-local, multicast, reserved,
// and unspecified addresses for both IPv4 and IPv6, unwrapping
// IPv4-mapped/IPv4-in-IPv6 forms first so e.g. "::ffff:127.0.0.1" cannot
// slip past an IPv6-only check.
func validateIP(ip net.IP) error {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}

	switch {
	case ip.IsLoopback():
		return fmt.Errorf("toolexec: address %s is loopback", ip)
	case ip.IsPrivate():
		return fmt.Errorf("toolexec: address %s is private", ip)
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("toolexec: address %s is link-local", ip)
	case ip.IsMulticast():
		return fmt.Errorf("toolexec: address %s is multicast", ip)
	case ip.IsUnspecified():
		return fmt.Errorf("toolexec: address %s is unspecified", ip)
	case isReservedIP(ip):
		return fmt.Errorf("toolexec: address %s is reserved", ip)
	}
	return nil
}

// isReservedIP covers ranges net.IP's helpers don't classify on their
// own: IPv4 0.0.0.0/8, 100.64.0.0/10 (carrier-grade NAT), and the IPv6
// 6to4 (2002::/16) and Teredo (2001::/32) tunneling ranges, both of
// which can carry an embedded private/loopback IPv4 address.
func isReservedIP(ip net.IP) bool {
	reservedV4 := []string{
		"0.0.0.0/8",
		"100.64.0.0/10",
	}
	if v4 := ip.To4(); v4 != nil {
		for _, cidr := range reservedV4 {
			_, block, err := net.ParseCIDR(cidr)
			if err == nil && block.Contains(v4) {
				return true
			}
		}
		return false
	}

	// 6to4 and Teredo both tunnel an embedded IPv4 address; unwrap it and
	// apply the same IPv4 checks, so e.g. 2002:7f00:0001:: (embedding
	// 127.0.0.1) is caught even though the outer address is neither
	// loopback nor private by net.IP's own classification.
	for _, cidr := range []string{"2002::/16", "2001::/32"} {
		_, block, err := net.ParseCIDR(cidr)
		if err == nil && block.Contains(ip) {
			embedded := embeddedIPv4(ip)
			return embedded == nil || validateIP(embedded) != nil
		}
	}
	return false
}

// embeddedIPv4 extracts the IPv4 address tunneled inside a 6to4
// (2002:AABB:CCDD::/48 where AABBCCDD is the IPv4 address) or Teredo
// (2001:0000::/32, IPv4 XORed into the last 4 bytes) address, or nil if
// ip carries no such encoding.
func embeddedIPv4(ip net.IP) net.IP {
	ip16 := ip.To16()
	if ip16 == nil {
		return nil
	}
	switch {
	case ip16[0] == 0x20 && ip16[1] == 0x02: // 6to4
		return net.IPv4(ip16[2], ip16[3], ip16[4], ip16[5])
	case ip16[0] == 0x20 && ip16[1] == 0x01 && ip16[2] == 0x00 && ip16[3] == 0x00: // Teredo
		return net.IPv4(ip16[12]^0xff, ip16[13]^0xff, ip16[14]^0xff, ip16[15]^0xff)
	default:
		return nil
	}
}
