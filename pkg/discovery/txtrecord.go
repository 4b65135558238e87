package discovery

import (
	"fmt"
	"strconv"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeInstanceTXT creates TXT records for a gateway instance.
func EncodeInstanceTXT(inst *Instance) TXTRecordMap {
	txt := make(TXTRecordMap)

	// Required fields
	txt[TXTKeyNodeID] = strconv.FormatUint(uint64(inst.NodeID), 10)
	txt[TXTKeyName] = inst.Name
	txt[TXTKeyRole] = inst.Role.String()

	// Optional fields
	if inst.Firmware != "" {
		txt[TXTKeyFirmware] = inst.Firmware
	}
	if inst.InstanceID != "" {
		txt[TXTKeyInstanceID] = inst.InstanceID
	}

	return txt
}

// DecodeInstanceTXT parses the mesh identity fields out of TXT records.
// Host fields of the returned Instance are left for the resolver to fill.
func DecodeInstanceTXT(txt TXTRecordMap) (*Instance, error) {
	inst := &Instance{}

	idStr, ok := txt[TXTKeyNodeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyNodeID)
	}
	id, err := strconv.ParseUint(idStr, 10, 8)
	if err != nil || id == 0 {
		return nil, fmt.Errorf("%w: bad node id %q", ErrInvalidTXTRecord, idStr)
	}
	inst.NodeID = uint8(id)

	inst.Name, ok = txt[TXTKeyName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyName)
	}

	roleStr, ok := txt[TXTKeyRole]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyRole)
	}
	inst.Role, err = parseRole(roleStr)
	if err != nil {
		return nil, fmt.Errorf("%w: bad role %q", ErrInvalidTXTRecord, roleStr)
	}

	// Optional fields
	inst.Firmware = txt[TXTKeyFirmware]
	inst.InstanceID = txt[TXTKeyInstanceID]

	return inst, nil
}

// TXTRecordsToStrings converts a TXT record map to "key=value" strings
// for zeroconf.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	out := make([]string, 0, len(txt))
	for k, v := range txt {
		out = append(out, k+"="+v)
	}
	return out
}

// StringsToTXTRecords parses "key=value" strings into a TXT record map.
// Malformed entries are skipped.
func StringsToTXTRecords(records []string) TXTRecordMap {
	txt := make(TXTRecordMap, len(records))
	for _, r := range records {
		k, v, ok := strings.Cut(r, "=")
		if !ok || k == "" {
			continue
		}
		txt[k] = v
	}
	return txt
}
