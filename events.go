/*
Copyright 2025 Replyloop Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package autopilot

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/cenkalti/backoff/v4"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/replyloop/autopilot/config"
	"github.com/replyloop/autopilot/model"
)

// emitEvent queues a send event for the analytics sink without blocking the
// delivery path. A failure to enqueue is logged and dropped; it must never
// fail the send itself.
func (a *Autopilot) emitEvent(event model.SendEvent) {
	go func() {
		if err := QueueSendEvent(event); err != nil {
			logrus.Errorf("failed to queue send event %s: %v", event.Event, err)
		}
	}()
}

// QueueSendEvent enqueues a send event task for the worker process.
func QueueSendEvent(event model.SendEvent) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	if conf.Notification.Events.Url == "" {
		return nil
	}

	client := asynq.NewClient(asynq.RedisClientOpt{Addr: conf.Redis.Dns})
	defer func() {
		_ = client.Close()
	}()

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{asynq.Queue(conf.Queue.EventQueue)}
	task := asynq.NewTask(conf.Queue.EventQueue, payload, taskOptions...)
	info, err := client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	return nil
}

// ProcessSendEvent handles a send event task from the queue, delivering it to
// the configured analytics endpoint with exponential backoff.
func ProcessSendEvent(_ context.Context, task *asynq.Task) error {
	conf, err := config.Fetch()
	if err != nil {
		return err
	}

	if conf.Notification.Events.Url == "" {
		return nil
	}

	var event model.SendEvent
	if err := json.Unmarshal(task.Payload(), &event); err != nil {
		log.Printf("Error unmarshaling send event payload: %v", err)
		return err
	}

	log.Printf("Delivering send event: %s\n", event.Event)
	operation := func() error {
		return deliverEvent(conf, event)
	}
	return backoff.Retry(operation, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4))
}

// deliverEvent posts one event record to the analytics endpoint.
func deliverEvent(conf *config.Configuration, event model.SendEvent) error {
	jsonData, err := json.Marshal(event)
	if err != nil {
		return err
	}

	req, err := http.NewRequest("POST", conf.Notification.Events.Url, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range conf.Notification.Events.Headers {
		req.Header.Set(key, value)
	}

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			logrus.Error(err)
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("Event delivery failed with status code: %d\n", resp.StatusCode)
		return nil
	}
	return nil
}
