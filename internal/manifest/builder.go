package manifest

import (
	"strconv"
	"strings"

	"github.com/studio1767/dsarchive/internal/ops"
)

// Fallbacks for identifying facts that are unset or not usable.
const (
	DefaultProjectID    = "17797"
	DefaultInstrumentID = 34127
	DefaultSubmitterID  = 43428

	// project ids with this prefix are placeholders and never sent
	ReservedProjectPrefix = "EPR"
)

// Metadata keys.
const (
	KeyDatasetID       = "omics.dms.dataset_id"
	KeyDatasetName     = "omics.dms.dataset_name"
	KeyDataPackageID   = "omics.dms.datapackage_id"
	KeyDataPackageName = "omics.dms.datapackage_name"
	KeyInstrument      = "omics.dms.instrument"
	KeyInstrumentID    = "omics.dms.instrument_id"
	KeyCampaignName    = "omics.dms.campaign_name"
	KeyExperimentName  = "omics.dms.experiment_name"
)

// Facts identifies what is being uploaded. Exactly one of DatasetID and
// DataPackageID must be set.
type Facts struct {
	DatasetID       int
	DatasetName     string
	DataPackageID   int
	DataPackageName string

	InstrumentID   int
	InstrumentName string
	ProjectID      string
	SubmitterID    int

	CampaignName   string
	ExperimentName string

	Extra []KeyValue
}

func (f Facts) projectID() string {
	p := strings.TrimSpace(f.ProjectID)
	if p == "" || strings.HasPrefix(strings.ToUpper(p), ReservedProjectPrefix) {
		return DefaultProjectID
	}
	return p
}

func (f Facts) instrumentID() int {
	if f.InstrumentID <= 0 {
		return DefaultInstrumentID
	}
	return f.InstrumentID
}

func (f Facts) submitterID() int {
	if f.SubmitterID <= 0 {
		return DefaultSubmitterID
	}
	return f.SubmitterID
}

// Build creates the manifest for files. The transaction values come first,
// then the key/value facts, then one FileEntry per file in the given order.
func Build(facts Facts, files []ops.FileRecord) ([]Item, error) {
	isDataset := facts.DatasetID > 0
	isPackage := facts.DataPackageID > 0
	if isDataset == isPackage {
		return nil, ops.Critical("exactly one of dataset id and data package id must be set (dataset %d, data package %d)",
			facts.DatasetID, facts.DataPackageID)
	}

	items := []Item{
		TransactionValue{Table: "instrument", Value: strconv.Itoa(facts.instrumentID())},
		TransactionValue{Table: "project", Value: facts.projectID()},
		TransactionValue{Table: "submitter", Value: strconv.Itoa(facts.submitterID())},
	}

	add := func(key, value string) {
		if value != "" {
			items = append(items, KeyValue{Key: key, Value: value})
		}
	}

	if isDataset {
		add(KeyInstrument, facts.InstrumentName)
		add(KeyInstrumentID, strconv.Itoa(facts.instrumentID()))
		add(KeyDatasetID, strconv.Itoa(facts.DatasetID))
		add(KeyDatasetName, facts.DatasetName)
		add(KeyCampaignName, facts.CampaignName)
		add(KeyExperimentName, facts.ExperimentName)
	} else {
		add(KeyDataPackageID, strconv.Itoa(facts.DataPackageID))
		add(KeyDataPackageName, facts.DataPackageName)
	}
	for _, kv := range facts.Extra {
		add(kv.Key, kv.Value)
	}

	for _, fr := range files {
		items = append(items, FileEntry{File: fr, Subdir: Subdir(fr.RelativeDir)})
	}

	return items, nil
}
