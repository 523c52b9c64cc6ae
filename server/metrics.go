package server

import (
	"context"

	"github.com/golang/glog"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"

	"treedrive/common"
)

var (
	keyCommand = tag.MustNewKey("command")

	mConnections     = stats.Int64("treedrive/connections", "Client connections accepted", stats.UnitDimensionless)
	mCommands        = stats.Int64("treedrive/commands", "Commands received from logged-in clients", stats.UnitDimensionless)
	mBytesUploaded   = stats.Int64("treedrive/bytes_uploaded", "File bytes stored from clients", stats.UnitBytes)
	mBytesDownloaded = stats.Int64("treedrive/bytes_downloaded", "File bytes sent to clients", stats.UnitBytes)
)

// Views aggregates the server measures. RegisterViews activates them.
var Views = []*view.View{
	{Name: "treedrive/connections", Measure: mConnections, Aggregation: view.Count()},
	{Name: "treedrive/commands", Measure: mCommands, TagKeys: []tag.Key{keyCommand}, Aggregation: view.Count()},
	{Name: "treedrive/bytes_uploaded", Measure: mBytesUploaded, Aggregation: view.Sum()},
	{Name: "treedrive/bytes_downloaded", Measure: mBytesDownloaded, Aggregation: view.Sum()},
}

func RegisterViews() error {
	return view.Register(Views...)
}

// LogExporter writes every reported view row to the info log.
type LogExporter struct{}

func (LogExporter) ExportView(vd *view.Data) {
	for _, row := range vd.Rows {
		var value any
		switch d := row.Data.(type) {
		case *view.CountData:
			value = d.Value
		case *view.SumData:
			value = d.Value
		default:
			value = d
		}
		glog.Infof("stats %s %v = %v", vd.View.Name, row.Tags, value)
	}
}

func recordConnection() {
	stats.Record(context.Background(), mConnections.M(1))
}

func recordCommand(cmd string) {
	if _, known := common.Commands[cmd]; !known {
		cmd = "UNKNOWN"
	}
	stats.RecordWithTags(context.Background(), []tag.Mutator{tag.Upsert(keyCommand, cmd)}, mCommands.M(1))
}

func recordUpload(n int64) {
	stats.Record(context.Background(), mBytesUploaded.M(n))
}

func recordDownload(n int64) {
	stats.Record(context.Background(), mBytesDownloaded.M(n))
}
