/*
Package sacn receives and transmits sACN (ANSI E1.31) DMX data over UDP.

Receiving

A Receiver binds one UDP socket, by default on port 5568, and joins the
multicast group of every universe added with AddUniverse. Each datagram is
decoded, its source is tracked (sequence numbers are checked per source and
universe, duplicates and gaps are logged but never dropped) and packets with
a non-zero start code are sorted out unless AllStartCodes is set. The
remaining packets are merged: per universe only the sources with the highest
priority count, and among those every channel takes the highest value (HTP).

Two streams are offered: Packets with every accepted packet and Changes with
the merged channels that changed, addressed by global channel
((universe-1)*512 + address). Sources silent for more than five seconds are
expired.

Transmitting

A Sender transmits one universe to its multicast group or to a unicast
destination. With a MinRefreshRate the last payload is sent again at that
rate as long as no new payload arrives.

Example

	log, _ := logger.NewLogger(config.LogConf{Level: "info"})
	recv, err := sacn.NewReceiver(log, sacn.ReceiverConfig{})
	if err != nil {
		panic(err)
	}
	defer recv.Close()
	recv.AddUniverse(1)

	go func() {
		for range recv.Packets() {
		}
	}()
	for changes := range recv.Changes() {
		for _, c := range changes {
			u, addr := universe.Split(c.Channel)
			fmt.Printf("%d/%d = %d\n", u, addr, c.Value)
		}
	}
*/
package sacn
