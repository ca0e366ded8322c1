package storage

import (
	"fmt"
	"strings"

	"github.com/dunedaq/dfcore/pkg/dferrors"
	"github.com/dunedaq/dfcore/pkg/dfmessages"
)

const pathSeparator = "/"

// KeyTranslator maps a StorageKey to the elements of its logical-layout
// path (spec.md §4.7), grounded on HDF5KeyTranslator::get_path_elements.
type KeyTranslator struct {
	layout      FileLayoutParams
	pathParams  map[dfmessages.GroupType]PathParams
}

// NewKeyTranslator builds a translator from the configured path_param list.
// An unrecognized DetectorGroupType string is a fatal configuration error,
// mirroring InvalidHDF5GroupTypeConfigParams.
func NewKeyTranslator(layout FileLayoutParams) (*KeyTranslator, error) {
	pathParams := make(map[dfmessages.GroupType]PathParams, len(layout.PathParamList))
	for _, p := range layout.PathParamList {
		gt, ok := parseGroupType(p.DetectorGroupType)
		if !ok {
			return nil, dferrors.New(dferrors.IssueRequestedHDF5GroupTypeNotFound,
				"invalid detector group type %q in file_layout_parameters.path_param_list", p.DetectorGroupType)
		}
		p.GroupType = gt
		pathParams[gt] = p
	}
	return &KeyTranslator{layout: layout, pathParams: pathParams}, nil
}

func parseGroupType(name string) (dfmessages.GroupType, bool) {
	switch name {
	case "TPC":
		return dfmessages.GroupTPC, true
	case "PDS":
		return dfmessages.GroupPDS, true
	case "Trigger":
		return dfmessages.GroupTrigger, true
	case "TPC_TP":
		return dfmessages.GroupTPCTP, true
	default:
		return 0, false
	}
}

// PathElements translates key into the Group/DataSet path components that
// address it within a container (spec.md §4.7).
func (t *KeyTranslator) PathElements(key dfmessages.StorageKey) ([]string, error) {
	if key.GroupType != dfmessages.GroupTriggerRecordHeader {
		if _, ok := t.pathParams[key.GroupType]; !ok {
			return nil, dferrors.New(dferrors.IssueRequestedHDF5GroupTypeNotFound,
				"requested group type %q has no configured path parameters", key.GroupType)
		}
	}

	triggerElem := fmt.Sprintf("%s%0*d", t.layout.TriggerRecordNamePrefix, t.layout.DigitsForTriggerNumber, key.TriggerNumber)
	if key.MaxSequenceNumber > 0 {
		triggerElem = fmt.Sprintf("%s.%d", triggerElem, key.SequenceNumber)
	}

	if key.GroupType == dfmessages.GroupTriggerRecordHeader {
		return []string{triggerElem, "TriggerRecordHeader"}, nil
	}

	p := t.pathParams[key.GroupType]
	regionElem := fmt.Sprintf("%s%0*d", p.RegionNamePrefix, p.DigitsForRegionNumber, key.RegionNumber)
	elementElem := fmt.Sprintf("%s%0*d", p.ElementNamePrefix, p.DigitsForElementNumber, key.ElementNumber)
	return []string{triggerElem, p.DetectorGroupName, regionElem, elementElem}, nil
}

// PathString joins PathElements with pathSeparator.
func (t *KeyTranslator) PathString(key dfmessages.StorageKey) (string, error) {
	elems, err := t.PathElements(key)
	if err != nil {
		return "", err
	}
	return strings.Join(elems, pathSeparator), nil
}
