package redpanda

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Topics carried by the capture pipeline
const (
	// TopicMedicationRecords carries MedicationRecordCommitted events from the outbox
	TopicMedicationRecords = "medication.records"
	// TopicMedicationStatus carries refill and expiration status snapshots
	TopicMedicationStatus = "medication.status"
	// TopicDeadLetter receives messages that could not be published or handled
	TopicDeadLetter = "medication.dead-letter"
)

const (
	day = 24 * 60 * 60 * 1000

	recordRetentionMS     = 30 * day
	deadLetterRetentionMS = 14 * day
)

// TopicConfig describes one pipeline topic
type TopicConfig struct {
	Name       string
	Partitions int32
	Configs    map[string]*string
}

// DefaultTopicConfigs returns the topic layout. Records and status snapshots
// are both keyed by record id, so the compacted status topic keeps the
// latest snapshot per medication.
func DefaultTopicConfigs() []TopicConfig {
	str := func(s string) *string { return &s }

	return []TopicConfig{
		{
			Name:       TopicMedicationRecords,
			Partitions: 6,
			Configs: map[string]*string{
				"retention.ms":     str(fmt.Sprint(recordRetentionMS)),
				"cleanup.policy":   str("delete"),
				"compression.type": str("zstd"),
			},
		},
		{
			Name:       TopicMedicationStatus,
			Partitions: 6,
			Configs: map[string]*string{
				"cleanup.policy":   str("compact"),
				"compression.type": str("zstd"),
			},
		},
		{
			Name:       TopicDeadLetter,
			Partitions: 1,
			Configs: map[string]*string{
				"retention.ms":   str(fmt.Sprint(deadLetterRetentionMS)),
				"cleanup.policy": str("delete"),
			},
		},
	}
}

// TopicInfo summarizes a topic on the cluster
type TopicInfo struct {
	Name       string `json:"name"`
	Partitions int    `json:"partitions"`
	Internal   bool   `json:"internal,omitempty"`
}

// PartitionLag is a consumer group's lag on one partition
type PartitionLag struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Lag       int64  `json:"lag"`
}

// Admin manages the pipeline topics
type Admin struct {
	client *kadm.Client
	logger *zap.Logger
}

// NewAdmin connects an admin client to brokers
func NewAdmin(brokers []string, logger *zap.Logger) (*Admin, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cl, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Admin{client: kadm.NewClient(cl), logger: logger}, nil
}

// EnsureTopics creates the pipeline topics that do not exist yet and returns
// the names it created. Existing topics are left untouched.
func (a *Admin) EnsureTopics(ctx context.Context, replication int16) ([]string, error) {
	if replication <= 0 {
		replication = 1
	}

	var created []string
	for _, tc := range DefaultTopicConfigs() {
		resp, err := a.client.CreateTopics(ctx, tc.Partitions, replication, tc.Configs, tc.Name)
		if err != nil {
			return created, fmt.Errorf("create topic %s: %w", tc.Name, err)
		}
		for _, r := range resp {
			switch {
			case errors.Is(r.Err, kerr.TopicAlreadyExists):
				a.logger.Debug("topic exists", zap.String("topic", r.Topic))
			case r.Err != nil:
				return created, fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
			default:
				a.logger.Info("topic created",
					zap.String("topic", r.Topic),
					zap.Int32("partitions", tc.Partitions),
					zap.Int16("replication", replication))
				created = append(created, r.Topic)
			}
		}
	}
	return created, nil
}

// ListTopics returns the topics on the cluster sorted by name
func (a *Admin) ListTopics(ctx context.Context) ([]TopicInfo, error) {
	details, err := a.client.ListTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}

	out := make([]TopicInfo, 0, len(details))
	for _, d := range details {
		if d.Err != nil {
			a.logger.Warn("topic metadata incomplete", zap.String("topic", d.Topic), zap.Error(d.Err))
		}
		out = append(out, TopicInfo{Name: d.Topic, Partitions: len(d.Partitions), Internal: d.IsInternal})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GroupLag returns the lag of a consumer group per partition, ordered by
// topic and partition
func (a *Admin) GroupLag(ctx context.Context, group string) ([]PartitionLag, error) {
	lags, err := a.client.Lag(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("group lag: %w", err)
	}

	var out []PartitionLag
	var groupErr error
	lags.Each(func(l kadm.DescribedGroupLag) {
		if l.Error() != nil {
			groupErr = l.Error()
			return
		}
		for topic, partitions := range l.Lag {
			for p, ml := range partitions {
				out = append(out, PartitionLag{Topic: topic, Partition: p, Lag: ml.Lag})
			}
		}
	})
	if groupErr != nil {
		return nil, fmt.Errorf("group %s: %w", group, groupErr)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Topic != out[j].Topic {
			return out[i].Topic < out[j].Topic
		}
		return out[i].Partition < out[j].Partition
	})
	return out, nil
}

// TotalLag sums the lag over all partitions
func TotalLag(lags []PartitionLag) int64 {
	var n int64
	for _, l := range lags {
		n += l.Lag
	}
	return n
}

// Close releases the client
func (a *Admin) Close() {
	a.client.Close()
}
